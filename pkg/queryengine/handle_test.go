package queryengine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	cancelErr   error
	cancelCalls int
}

func (f *fakeConn) CancelRequest(ctx context.Context) error {
	f.cancelCalls++
	return f.cancelErr
}

func TestNewHandle_StartsPending(t *testing.T) {
	t.Parallel()
	h := NewHandle(context.Background(), uuid.New(), "SELECT 1")
	assert.Equal(t, StatePending, h.State())
	assert.False(t, h.IsCancelled())
}

func TestHandle_Cancel_SetsTokenMonotonically(t *testing.T) {
	t.Parallel()
	h := NewHandle(context.Background(), uuid.New(), "SELECT 1")
	require.NoError(t, h.Cancel(context.Background()))
	assert.True(t, h.IsCancelled())
	// A second Cancel call must not un-set or otherwise regress the token.
	require.NoError(t, h.Cancel(context.Background()))
	assert.True(t, h.IsCancelled())
}

func TestHandle_Cancel_InvokesAttachedConnection(t *testing.T) {
	t.Parallel()
	h := NewHandle(context.Background(), uuid.New(), "SELECT 1")
	conn := &fakeConn{}
	h.AttachConnection(conn)

	require.NoError(t, h.Cancel(context.Background()))
	assert.Equal(t, 1, conn.cancelCalls)
}

func TestHandle_Cancel_PropagatesConnectionError(t *testing.T) {
	t.Parallel()
	h := NewHandle(context.Background(), uuid.New(), "SELECT 1")
	wantErr := errors.New("cancel request failed")
	h.AttachConnection(&fakeConn{cancelErr: wantErr})

	err := h.Cancel(context.Background())
	assert.ErrorIs(t, err, wantErr)
	assert.True(t, h.IsCancelled(), "cooperative token must be set even if the protocol cancel fails")
}

func TestHandle_Transition_RejectsInvalid(t *testing.T) {
	t.Parallel()
	h := NewHandle(context.Background(), uuid.New(), "SELECT 1")
	h.transition(StateTerminated) // Pending -> Terminated is not in the table
	assert.Equal(t, StatePending, h.State())
}

func TestHandle_Done_ClosesOnCancel(t *testing.T) {
	t.Parallel()
	h := NewHandle(context.Background(), uuid.New(), "SELECT 1")
	select {
	case <-h.Done():
		t.Fatal("Done channel must not be closed before Cancel")
	default:
	}
	require.NoError(t, h.Cancel(context.Background()))
	select {
	case <-h.Done():
	default:
		t.Fatal("Done channel must be closed after Cancel")
	}
}
