package functions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Itinerary actions
const (
	ItineraryAdd    = "add"
	ItineraryRemove = "remove"
	ItineraryClear  = "clear"
	ItineraryRename = "rename"
	ItineraryShow   = "view"
)

// Stop is a single planned activity.
type Stop struct {
	Title string `json:"title"`
	Time  string `json:"time,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Day groups the stops planned for one trip day.
type Day struct {
	Day   int    `json:"day"`
	Stops []Stop `json:"stops"`
}

// ItineraryView is an immutable copy of an itinerary.
type ItineraryView struct {
	Title string `json:"title,omitempty"`
	Days  []Day  `json:"days"`
}

// Itinerary is the trip plan of one client connection. Tool calls from an
// abandoned upstream session may still be finishing while a new one starts,
// so access is serialized.
type Itinerary struct {
	mu    sync.Mutex
	title string
	days  map[int][]Stop
}

// NewItinerary creates an empty itinerary.
func NewItinerary() *Itinerary {
	return &Itinerary{days: make(map[int][]Stop)}
}

// Add appends a stop to a 1-based day.
func (it *Itinerary) Add(day int, stop Stop) error {
	if day < 1 {
		return fmt.Errorf("day must be 1 or greater, got %d", day)
	}
	if strings.TrimSpace(stop.Title) == "" {
		return fmt.Errorf("title is required to add a stop")
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	it.days[day] = append(it.days[day], stop)
	return nil
}

// Remove deletes the first stop on day whose title matches case-insensitively.
// A zero day searches every day, earliest first.
func (it *Itinerary) Remove(day int, title string) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	days := []int{day}
	if day == 0 {
		days = make([]int, 0, len(it.days))
		for d := range it.days {
			days = append(days, d)
		}
		sort.Ints(days)
	}
	for _, d := range days {
		stops := it.days[d]
		for i, s := range stops {
			if strings.EqualFold(s.Title, title) {
				it.days[d] = append(stops[:i:i], stops[i+1:]...)
				if len(it.days[d]) == 0 {
					delete(it.days, d)
				}
				return nil
			}
		}
	}
	return fmt.Errorf("no stop titled %q in the itinerary", title)
}

// Clear removes every stop and the title.
func (it *Itinerary) Clear() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.title = ""
	it.days = make(map[int][]Stop)
}

// Rename sets the trip title.
func (it *Itinerary) Rename(title string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.title = title
}

// View returns a copy ordered by day.
func (it *Itinerary) View() ItineraryView {
	it.mu.Lock()
	defer it.mu.Unlock()

	view := ItineraryView{Title: it.title, Days: make([]Day, 0, len(it.days))}
	for d, stops := range it.days {
		view.Days = append(view.Days, Day{Day: d, Stops: append([]Stop(nil), stops...)})
	}
	sort.Slice(view.Days, func(i, j int) bool { return view.Days[i].Day < view.Days[j].Day })
	return view
}

type itineraryArgs struct {
	Action    string `json:"action" jsonschema:"enum=add,enum=remove,enum=clear,enum=rename,enum=view,description=What to do with the trip itinerary"`
	Day       int    `json:"day,omitempty" jsonschema:"description=Trip day starting at 1 (used by add and remove)"`
	Title     string `json:"title,omitempty" jsonschema:"description=Activity or place name (used by add and remove)"`
	Time      string `json:"time,omitempty" jsonschema:"description=Optional time of day such as 09:30 or afternoon"`
	Notes     string `json:"notes,omitempty" jsonschema:"description=Optional notes for the activity"`
	TripTitle string `json:"trip_title,omitempty" jsonschema:"description=New trip title (used by rename)"`
}

const itineraryDescription = "Create or modify the traveller's day-by-day itinerary. " +
	"Call it whenever the user agrees to add or drop an activity. The result contains the full itinerary."

func updateItinerary(_ context.Context, st *State, args itineraryArgs) (map[string]any, error) {
	it := st.Itinerary
	switch args.Action {
	case ItineraryAdd:
		if err := it.Add(args.Day, Stop{Title: args.Title, Time: args.Time, Notes: args.Notes}); err != nil {
			return nil, err
		}
	case ItineraryRemove:
		if args.Title == "" {
			return nil, fmt.Errorf("title is required to remove a stop")
		}
		if err := it.Remove(args.Day, args.Title); err != nil {
			return nil, err
		}
	case ItineraryClear:
		it.Clear()
	case ItineraryRename:
		if args.TripTitle == "" {
			return nil, fmt.Errorf("trip_title is required to rename")
		}
		it.Rename(args.TripTitle)
	case ItineraryShow:
	default:
		return nil, fmt.Errorf("unsupported action %q", args.Action)
	}

	return map[string]any{
		"status":         "ok",
		"action":         args.Action,
		"full_itinerary": it.View(),
	}, nil
}
