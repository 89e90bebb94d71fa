package ck

import (
	"fmt"
	"net/http"

	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
)

const (
	FieldMetadataName      = "metadata.name"
	FieldMetadataNamespace = "metadata.namespace"
)

// Selector is a predicate over the labels and the selectable fields of an
// object. The zero value matches everything.
type Selector struct {
	Labels labels.Selector
	Fields fields.Selector
}

// ParseSelector parses label and field selector expressions, as sent in the
// Ck-Label-Selector and Ck-Field-Selector headers.
// Empty expressions match everything.
func ParseSelector(labelExpr, fieldExpr string) (Selector, error) {
	ls, err := labels.Parse(labelExpr)
	if err != nil {
		return Selector{}, selectorError(err)
	}
	fs, err := fields.ParseSelector(fieldExpr)
	if err != nil {
		return Selector{}, selectorError(err)
	}
	if err := validateFieldSelector(fs); err != nil {
		return Selector{}, err
	}
	return Selector{Labels: ls, Fields: fs}, nil
}

func selectorError(err error) error {
	return &Error{
		Status:  http.StatusBadRequest,
		Reason:  ReasonSelectorInvalid,
		Message: fmt.Sprintf("invalid selector: %s", err.Error()),
		Cause:   err,
	}
}

func validateFieldSelector(fs fields.Selector) error {
	for _, req := range fs.Requirements() {
		switch req.Field {
		case FieldMetadataName, FieldMetadataNamespace:
		default:
			return &Error{
				Status:  http.StatusBadRequest,
				Reason:  ReasonSelectorInvalid,
				Message: fmt.Sprintf("field %q is not selectable", req.Field),
			}
		}
	}
	return nil
}

// Empty reports whether the selector matches everything.
func (s Selector) Empty() bool {
	return (s.Labels == nil || s.Labels.Empty()) &&
		(s.Fields == nil || s.Fields.Empty())
}

// Matches reports whether the object satisfies both the label and the field
// selector.
func (s Selector) Matches(obj Objecter) bool {
	if s.Labels != nil && !s.Labels.Matches(labels.Set(obj.ObjectLabels())) {
		return false
	}
	if s.Fields != nil && !s.Fields.Matches(ObjectFields(obj)) {
		return false
	}
	return true
}

// LabelString returns the label selector in its string form, or "".
func (s Selector) LabelString() string {
	if s.Labels == nil {
		return ""
	}
	return s.Labels.String()
}

// FieldString returns the field selector in its string form, or "".
func (s Selector) FieldString() string {
	if s.Fields == nil {
		return ""
	}
	return s.Fields.String()
}

func (s Selector) String() string {
	return fmt.Sprintf("labels=%q,fields=%q", s.LabelString(), s.FieldString())
}

// ObjectFields returns the selectable fields of an object.
func ObjectFields(obj ObjectKeyer) fields.Set {
	ns := obj.ObjectNamespace()
	if ns == ClusterNamespace {
		ns = ""
	}
	return fields.Set{
		FieldMetadataName:      obj.ObjectName(),
		FieldMetadataNamespace: ns,
	}
}

func (s Selector) withRequirement(
	key string,
	op selection.Operator,
	values ...string,
) (Selector, error) {
	req, err := labels.NewRequirement(key, op, values)
	if err != nil {
		return s, selectorError(err)
	}
	ls := s.Labels
	if ls == nil {
		ls = labels.NewSelector()
	}
	s.Labels = ls.Add(*req)
	return s, nil
}

func (s Selector) withLabelExpression(expr string) (Selector, error) {
	parsed, err := labels.Parse(expr)
	if err != nil {
		return s, selectorError(err)
	}
	reqs, _ := parsed.Requirements()
	ls := s.Labels
	if ls == nil {
		ls = labels.NewSelector()
	}
	s.Labels = ls.Add(reqs...)
	return s, nil
}

func (s Selector) withField(fs fields.Selector) (Selector, error) {
	if err := validateFieldSelector(fs); err != nil {
		return s, err
	}
	if s.Fields == nil || s.Fields.Empty() {
		s.Fields = fs
		return s, nil
	}
	s.Fields = fields.AndSelectors(s.Fields, fs)
	return s, nil
}

func (s Selector) withFieldExpression(expr string) (Selector, error) {
	fs, err := fields.ParseSelector(expr)
	if err != nil {
		return s, selectorError(err)
	}
	return s.withField(fs)
}
