package natsbus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrouter/internal/domain"
	"agentrouter/internal/logging"
)

type recordingConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestPublishEncodesEventPerTaskSubject(t *testing.T) {
	c := &recordingConn{}
	p := newPublisher(c, "runs.", logging.NewNop())

	require.NoError(t, p.Publish(domain.Event{Seq: 3, TaskID: "run-1", Type: domain.EventNodeStarted, Node: domain.NodeExecute}))

	require.Len(t, c.subjects, 1)
	assert.Equal(t, "runs.run-1", c.subjects[0])

	var got domain.Event
	require.NoError(t, json.Unmarshal(c.payloads[0], &got))
	assert.Equal(t, int64(3), got.Seq)
	assert.Equal(t, domain.NodeExecute, got.Node)
}

func TestPublishSwallowsErrors(t *testing.T) {
	p := newPublisher(&recordingConn{err: errors.New("disconnected")}, "", logging.NewNop())
	assert.NoError(t, p.Publish(domain.Event{TaskID: "run"}))
	assert.Equal(t, "agentrouter.events.run", p.Subject("run"))
}

func TestCloseWithoutConnection(t *testing.T) {
	p := newPublisher(&recordingConn{}, "x", nil)
	assert.NoError(t, p.Close())
}
