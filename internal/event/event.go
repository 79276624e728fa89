package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category names a family of ready events that share a clustering policy.
type Category string

const (
	CategoryCrops           Category = "crops"
	CategoryGreenhouseCrops Category = "greenhouse_crops"
	CategoryFruits          Category = "fruits"
	CategoryFlowers         Category = "flowers"
	CategoryTrees           Category = "trees"
	CategoryStones          Category = "stones"
	CategoryIron            Category = "iron"
	CategoryGold            Category = "gold"
	CategoryCrimstones      Category = "crimstones"
	CategoryOil             Category = "oil"
	CategoryMushrooms       Category = "mushrooms"
	CategoryHoney           Category = "honey"
	CategoryAnimals         Category = "animals"
	CategoryCooking         Category = "cooking"
	CategoryComposters      Category = "composters"
	CategoryCrafting        Category = "crafting"
	CategoryMarketSales     Category = "market_sales"
	CategoryBeehiveSwarm    Category = "beehive_swarm"
	CategorySickAnimals     Category = "sick_animals"
	CategoryAuctions        Category = "auctions"
)

// ParseCategory normalizes user or wire input into a Category.
func ParseCategory(value string) Category {
	return Category(strings.ToLower(strings.TrimSpace(value)))
}

func (c Category) String() string { return string(c) }

// ReadyEvent is a single occurrence extracted from a snapshot, such as one crop
// plot becoming harvestable. ReadyAt is epoch milliseconds.
type ReadyEvent struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Name        string   `json:"name"`
	GroupingKey string   `json:"groupingKey,omitempty"`
	Quantity    float64  `json:"quantity"`
	ReadyAt     int64    `json:"readyAt"`
	Detail      string   `json:"detail,omitempty"`
}

// ErrMalformed marks a record that is missing a required field.
var ErrMalformed = errors.New("malformed ready event")

// Validate reports whether the event carries every field clustering needs.
func (e ReadyEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case strings.TrimSpace(string(e.Category)) == "":
		return fmt.Errorf("%w: %s missing category", ErrMalformed, e.ID)
	case strings.TrimSpace(e.Name) == "":
		return fmt.Errorf("%w: %s missing name", ErrMalformed, e.ID)
	case e.ReadyAt <= 0:
		return fmt.Errorf("%w: %s missing readyAt", ErrMalformed, e.ID)
	case e.Quantity < 0:
		return fmt.Errorf("%w: %s has negative quantity", ErrMalformed, e.ID)
	}
	return nil
}

// ReadyTime converts ReadyAt to a time.Time.
func (e ReadyEvent) ReadyTime() time.Time {
	return time.UnixMilli(e.ReadyAt)
}

// Clear is an explicit domain event that re-arms a transition tracked identity,
// for example a hive reaching full or a swarm being collected.
type Clear struct {
	Category Category `json:"category"`
	Identity string   `json:"identity"`
	Reason   string   `json:"reason,omitempty"`
}

// Batch is everything one poll extracted from a snapshot.
type Batch struct {
	FetchedAt time.Time
	Events    map[Category][]ReadyEvent
	Clears    []Clear
	// Dropped counts records rejected as malformed during extraction.
	Dropped int
}

// Categories returns the batch categories in a stable order.
func (b Batch) Categories() []Category {
	out := make([]Category, 0, len(b.Events))
	for category := range b.Events {
		out = append(out, category)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Add appends an event under its category.
func (b *Batch) Add(e ReadyEvent) {
	if b.Events == nil {
		b.Events = make(map[Category][]ReadyEvent)
	}
	b.Events[e.Category] = append(b.Events[e.Category], e)
}

// Size is the total number of events across categories.
func (b Batch) Size() int {
	total := 0
	for _, events := range b.Events {
		total += len(events)
	}
	return total
}

// SortByReadyAt orders events by ReadyAt, breaking ties by ID so ordering is
// independent of snapshot order.
func SortByReadyAt(events []ReadyEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].ReadyAt != events[j].ReadyAt {
			return events[i].ReadyAt < events[j].ReadyAt
		}
		return events[i].ID < events[j].ID
	})
}
