package tools

import (
	"context"
	"fmt"
	"time"
)

// CurrentTimeTool reports the current local time.
type CurrentTimeTool struct {
	loc *time.Location
	now func() time.Time
}

// NewCurrentTimeTool uses the IANA zone tz, or the host zone when empty.
func NewCurrentTimeTool(tz string) (*CurrentTimeTool, error) {
	loc := time.Local
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	return &CurrentTimeTool{loc: loc, now: time.Now}, nil
}

func (t *CurrentTimeTool) Name() string { return "get_current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Get the current date and time. Use it to resolve relative dates such as today, last week or this month before filtering by date."
}

func (t *CurrentTimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *CurrentTimeTool) Execute(_ context.Context, _ map[string]interface{}) *Result {
	return NewResult(t.now().In(t.loc).Format("2006-01-02 15:04:05"))
}
