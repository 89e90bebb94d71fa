package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
)

// quotaResourceNames returns the names a ResourceQuota uses to limit the
// number of objects of kind, e.g. "replicationcontrollers" and
// "count/replicationcontrollers".
func quotaResourceNames(kind string) []string {
	plural := strings.ToLower(kind) + "s"
	return []string{plural, "count/" + plural}
}

// checkQuota returns a forbidden error if creating one more object of the
// kind of key would exceed a quota in its namespace.
func (s *Store) checkQuota(ctx context.Context, key ck.ObjectKey) error {
	quotas, err := s.entries(ctx, ck.KeyFromObject(ck.ObjectKey{
		Group:     core.ObjectGroup,
		Version:   core.ObjectVersion,
		Kind:      core.ObjectKindResourceQuota,
		Namespace: key.Namespace,
	}))
	if err != nil {
		return err
	}
	used := -1
	for _, entry := range quotas {
		var quota core.ResourceQuota
		if err := json.Unmarshal(entry.Value(), &quota); err != nil {
			return internalError("unmarshalling resource quota", err)
		}
		if quota.Spec == nil {
			continue
		}
		for _, name := range quotaResourceNames(key.Kind) {
			hard, ok := quota.Spec.Hard[name]
			if !ok {
				continue
			}
			if used < 0 {
				objects, err := s.entries(ctx, ck.KeyFromObject(ck.ObjectKey{
					Group:     key.Group,
					Version:   key.Version,
					Kind:      key.Kind,
					Namespace: key.Namespace,
				}))
				if err != nil {
					return err
				}
				used = len(objects)
			}
			if int64(used)+1 > hard.Value() {
				return forbidden(
					"exceeded quota: %s, requested: %s=1, used: %s=%d, limited: %s=%s",
					quota.Name,
					name,
					name,
					used,
					name,
					hard.String(),
				)
			}
		}
	}
	return nil
}
