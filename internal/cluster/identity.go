package cluster

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"cropwatch/internal/event"
)

var groupNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://cropwatch.local/notification-group"))

// GroupID derives a stable name-based UUID from a category, grouping key, and
// anchor-or-bucket time.
func GroupID(category event.Category, key string, at int64) string {
	var b strings.Builder
	b.WriteString(string(category))
	b.WriteByte('\n')
	b.WriteString(key)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(at, 10))
	return uuid.NewSHA1(groupNamespace, []byte(b.String())).String()
}

// IdentityGroupID derives a stable ID from a set of source identities,
// independent of their order.
func IdentityGroupID(category event.Category, identities []string, at int64) string {
	sorted := append([]string(nil), identities...)
	sort.Strings(sorted)
	return GroupID(category, "ids:"+strings.Join(sorted, ","), at)
}

func groupKey(e event.ReadyEvent, by GroupBy) string {
	if by == GroupByNameBuilding {
		return e.Name + "\x1f" + e.GroupingKey
	}
	return e.Name
}
