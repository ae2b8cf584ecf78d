package agent_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roginn/towd-you-so/internal/agent"
)

func stubTool(name string) agent.Tool {
	return agent.Tool{
		Name: name,
		Run: func(context.Context, map[string]any) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		reg := agent.NewRegistry()
		reg.Register(stubTool("get_current_time"))

		tool, err := reg.Lookup("get_current_time")

		require.NoError(t, err)
		assert.Equal(t, "get_current_time", tool.Name)
	})

	t.Run("unknown tool returns ErrUnknownTool", func(t *testing.T) {
		t.Parallel()

		reg := agent.NewRegistry()

		_, err := reg.Lookup("nonexistent")

		require.Error(t, err)
		assert.ErrorIs(t, err, agent.ErrUnknownTool)
	})

	t.Run("tool without implementation is rejected", func(t *testing.T) {
		t.Parallel()

		reg := agent.NewRegistry()
		reg.Register(agent.Tool{Name: "broken"})

		_, err := reg.Lookup("broken")
		require.Error(t, err)
	})

	t.Run("overwrite existing registration", func(t *testing.T) {
		t.Parallel()

		reg := agent.NewRegistry()
		reg.Register(stubTool("t"))
		reg.Register(agent.Tool{Name: "t", SubAgent: "reader", Run: stubTool("t").Run})

		tool, err := reg.Lookup("t")
		require.NoError(t, err)
		assert.Equal(t, "reader", tool.SubAgent)
		assert.Len(t, reg.Available(), 1)
	})
}

func TestRegistry_Available(t *testing.T) {
	t.Parallel()

	reg := agent.NewRegistry()
	assert.Empty(t, reg.Available())

	reg.Register(stubTool("read_parking_sign"))
	reg.Register(stubTool("get_current_time"))

	assert.Equal(t, []string{"get_current_time", "read_parking_sign"}, reg.Available())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg := agent.NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Register(stubTool(string(rune('a' + i%26))))
		}()
		go func() {
			defer wg.Done()
			_ = reg.Available()
		}()
	}
	wg.Wait()

	assert.Len(t, reg.Available(), 26)
}

func TestDefaultTools(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, time.March, 4, 10, 30, 0, 0, time.UTC)
	reg := agent.DefaultTools(func() time.Time { return at })

	assert.Equal(t, []string{agent.ToolCurrentTime, agent.ToolReadParkingSign}, reg.Available())

	sign, err := reg.Lookup(agent.ToolReadParkingSign)
	require.NoError(t, err)
	assert.NotEmpty(t, sign.SubAgent)

	_, err = sign.Run(t.Context(), map[string]any{})
	assert.Error(t, err, "reading a sign needs an image")

	raw, err := sign.Run(t.Context(), map[string]any{"file_id": "f1.jpg"})
	require.NoError(t, err)
	var reading agent.SignReading
	require.NoError(t, json.Unmarshal(raw, &reading))
	assert.Equal(t, "NO PARKING 8AM-6PM MON-FRI", reading.SignText)

	clock, err := reg.Lookup(agent.ToolCurrentTime)
	require.NoError(t, err)
	raw, err = clock.Run(t.Context(), nil)
	require.NoError(t, err)
	var c agent.ClockReading
	require.NoError(t, json.Unmarshal(raw, &c))
	assert.Equal(t, "Tuesday", c.Weekday)
	assert.Equal(t, "10:30", c.Time)
}

func TestAnswer(t *testing.T) {
	t.Parallel()

	reading := &agent.SignReading{
		SignText: "NO PARKING 8AM-6PM MON-FRI",
		Restrictions: []agent.SignRestriction{{
			Rule:  "no_parking",
			Days:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			Start: "08:00",
			End:   "18:00",
		}},
	}

	tests := []struct {
		name    string
		reading *agent.SignReading
		at      time.Time
		prefix  string
	}{
		{name: "weekday inside window", reading: reading, at: time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC), prefix: "No,"},
		{name: "weekday at end of window", reading: reading, at: time.Date(2025, 3, 4, 18, 0, 0, 0, time.UTC), prefix: "Yes,"},
		{name: "weekend", reading: reading, at: time.Date(2025, 3, 8, 10, 30, 0, 0, time.UTC), prefix: "Yes,"},
		{name: "no sign", reading: nil, at: time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC), prefix: "I need a photo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := agent.Answer(tt.reading, tt.at)
			assert.Regexp(t, "^"+tt.prefix, got)
		})
	}
}
