package meetup

// pastEventsQuery pulls one page of a group's past events with their tickets.
// $after is null for the first page.
const pastEventsQuery = `query PastEventAttendees($urlname: String!, $after: String) {
  groupByUrlname(urlname: $urlname) {
    id
    name
    pastEvents(input: {after: $after}) {
      pageInfo {
        hasNextPage
        endCursor
      }
      edges {
        cursor
        node {
          id
          title
          dateTime
          status
          going
          tickets {
            edges {
              node {
                status
                guestsCount
                user {
                  id
                  name
                  city
                  state
                }
              }
            }
          }
        }
      }
    }
  }
}`

// pageVariables builds the query variables. An empty cursor requests the
// first page.
func pageVariables(group, cursor string) map[string]any {
	vars := map[string]any{"urlname": group, "after": nil}
	if cursor != "" {
		vars["after"] = cursor
	}
	return vars
}
