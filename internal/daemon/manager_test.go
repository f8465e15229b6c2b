package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingComponent struct {
	name     string
	startErr error
	events   *[]string
}

func (c *recordingComponent) Name() string { return c.name }

func (c *recordingComponent) Start(context.Context) error {
	*c.events = append(*c.events, "start:"+c.name)
	return c.startErr
}

func (c *recordingComponent) Stop(context.Context) error {
	*c.events = append(*c.events, "stop:"+c.name)
	return nil
}

func (c *recordingComponent) Health(context.Context) (*ComponentHealth, error) {
	return &ComponentHealth{Name: c.name, Healthy: true}, nil
}

func TestRunStartsInOrderAndStopsInReverse(t *testing.T) {
	var events []string
	d := NewDaemon(time.Second)
	d.AddComponent(&recordingComponent{name: "a", events: &events})
	d.AddComponent(&recordingComponent{name: "b", events: &events})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)
}

func TestRunRollsBackOnStartFailure(t *testing.T) {
	var events []string
	d := NewDaemon(time.Second)
	d.AddComponent(&recordingComponent{name: "a", events: &events})
	d.AddComponent(&recordingComponent{name: "b", startErr: errors.New("boom"), events: &events})
	d.AddComponent(&recordingComponent{name: "c", events: &events})

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start component b")
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, events)
}

func TestHealthReportsComponents(t *testing.T) {
	var events []string
	d := NewDaemon(time.Second)
	d.AddComponent(&recordingComponent{name: "a", events: &events})

	state, health := d.Health(context.Background())
	assert.Equal(t, StatusStarting, state)
	require.Len(t, health, 1)
	assert.True(t, health[0].Healthy)
}
