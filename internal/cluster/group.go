package cluster

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"cropwatch/internal/event"
)

// Group is the clustered unit that maps to one user-visible notification.
type Group struct {
	GroupID     string         `json:"groupId"`
	Category    event.Category `json:"category"`
	Name        string         `json:"name"`
	GroupingKey string         `json:"groupingKey,omitempty"`
	Quantity    float64        `json:"quantity"`
	Count       int            `json:"count"`
	NotifyAt    int64          `json:"notifyAt"`
	Detail      string         `json:"detail,omitempty"`
	Members     []string       `json:"members,omitempty"`
}

// NotifyTime converts NotifyAt to a time.Time.
func (g Group) NotifyTime() time.Time {
	return time.UnixMilli(g.NotifyAt)
}

// DeliveryKey identifies one delivery of this group; a group rescheduled to a
// new time is a new delivery.
func (g Group) DeliveryKey() string {
	return g.GroupID + "@" + strconv.FormatInt(g.NotifyAt, 10)
}

// SortGroups orders groups by notifyAt, then category, then ID.
func SortGroups(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.NotifyAt != b.NotifyAt {
			return a.NotifyAt < b.NotifyAt
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.GroupID < b.GroupID
	})
}

// build aggregates sorted events into a group. The caller supplies the ID.
func build(category event.Category, p Policy, groupID string, events []event.ReadyEvent) Group {
	g := Group{
		GroupID:  groupID,
		Category: category,
		Name:     events[0].Name,
		Count:    len(events),
		NotifyAt: events[0].ReadyAt,
		Members:  make([]string, 0, len(events)),
	}
	if p.GroupBy == GroupByNameBuilding {
		g.GroupingKey = events[0].GroupingKey
	}

	seen := make(map[string]struct{})
	var details []string
	for _, e := range events {
		g.Quantity += e.Quantity
		g.Members = append(g.Members, e.ID)
		if e.Name != g.Name {
			g.Name = string(category)
		}
		if p.Anchor == AnchorLatest && e.ReadyAt > g.NotifyAt {
			g.NotifyAt = e.ReadyAt
		}
		if p.Anchor != AnchorLatest && e.ReadyAt < g.NotifyAt {
			g.NotifyAt = e.ReadyAt
		}
		detail := strings.TrimSpace(e.Detail)
		if detail == "" {
			continue
		}
		if _, ok := seen[detail]; ok {
			continue
		}
		seen[detail] = struct{}{}
		details = append(details, detail)
	}
	if p.Aggregation == AggregateCount {
		g.Quantity = float64(len(events))
	}
	g.Detail = strings.Join(details, "; ")
	return g
}
