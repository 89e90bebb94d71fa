package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/clusterkit/clusterkit/pkg/ck"
	"sigs.k8s.io/yaml"
)

const (
	purple    = lipgloss.Color("99")
	gray      = lipgloss.Color("245")
	lightGray = lipgloss.Color("241")
)

func printObject(w io.Writer, data []byte) error {
	out, err := yaml.JSONToYAML(data)
	if err != nil {
		return fmt.Errorf("converting object to yaml: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func printObjects(w io.Writer, objects []ck.GenericObject) {
	re := lipgloss.NewRenderer(w)
	var (
		headerStyle = re.NewStyle().
				Foreground(purple).
				Bold(true).
				Align(lipgloss.Center)
		cellStyle    = re.NewStyle().Padding(0, 1)
		oddRowStyle  = cellStyle.Copy().Foreground(gray)
		evenRowStyle = cellStyle.Copy().Foreground(lightGray)
		borderStyle  = lipgloss.NewStyle().Foreground(purple)
	)

	rows := make([][]string, len(objects))
	for i, obj := range objects {
		rows[i] = []string{
			obj.Kind,
			obj.Namespace,
			obj.Name,
			strconv.FormatInt(obj.Generation, 10),
			formatLabels(obj.Labels),
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == 0:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("Kind", "Namespace", "Name", "Generation", "Labels").
		Rows(rows...)

	fmt.Fprintln(w, t)
}

func formatLabels(labels map[string]string) string {
	keys := slices.Sorted(maps.Keys(labels))
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + labels[k]
	}
	return strings.Join(pairs, ",")
}
