package meetup

import (
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRAPHQL ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// GraphQLRequestDTO is the POST body sent to the endpoint.
type GraphQLRequestDTO struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// GraphQLResponseDTO is the response envelope for the past-events query.
type GraphQLResponseDTO struct {
	Data   *PastEventsDataDTO `json:"data"`
	Errors []GraphQLErrorDTO  `json:"errors,omitempty"`
}

// GraphQLErrorDTO is one entry of the GraphQL errors array.
type GraphQLErrorDTO struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns extensions.code when present.
func (e GraphQLErrorDTO) Code() string {
	if code, ok := e.Extensions["code"].(string); ok {
		return code
	}
	return ""
}

// GraphQLErrors is returned when the response carried an errors array.
type GraphQLErrors []GraphQLErrorDTO

// Error implements the error interface.
func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ge := range e {
		msgs = append(msgs, ge.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// ══════════════════════════════════════════════════════════════════════════════
// PAST EVENTS PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// PastEventsDataDTO is the data object of the past-events query.
type PastEventsDataDTO struct {
	Group *GroupDTO `json:"groupByUrlname"`
}

// GroupDTO is a Meetup group.
type GroupDTO struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	PastEvents *EventConnectionDTO `json:"pastEvents"`
}

// EventConnectionDTO is a paginated connection of events.
type EventConnectionDTO struct {
	PageInfo PageInfoDTO    `json:"pageInfo"`
	Edges    []EventEdgeDTO `json:"edges"`
}

// PageInfoDTO is the connection's pagination block.
type PageInfoDTO struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// EventEdgeDTO wraps one event with its cursor.
type EventEdgeDTO struct {
	Cursor string        `json:"cursor"`
	Node   *EventNodeDTO `json:"node"`
}

// EventNodeDTO is a past event.
type EventNodeDTO struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	DateTime string               `json:"dateTime"`
	Status   string               `json:"status"`
	Going    int                  `json:"going"`
	Tickets  *TicketConnectionDTO `json:"tickets"`
}

// TicketConnectionDTO is the event's ticket list.
type TicketConnectionDTO struct {
	Edges []TicketEdgeDTO `json:"edges"`
}

// TicketEdgeDTO wraps one ticket.
type TicketEdgeDTO struct {
	Node *TicketNodeDTO `json:"node"`
}

// TicketNodeDTO is one RSVP.
type TicketNodeDTO struct {
	Status      string   `json:"status"`
	GuestsCount int      `json:"guestsCount"`
	User        *UserDTO `json:"user"`
}

// UserDTO is the ticket holder's profile.
type UserDTO struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	City  *string `json:"city"`
	State *string `json:"state"`
}
