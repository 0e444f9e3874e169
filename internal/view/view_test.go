package view

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/motion"
	"github.com/petsync/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *registry.Store {
	t.Helper()
	s := registry.NewStore(nil, time.Second, testLogger())
	t.Cleanup(s.Close)
	s.SetViewer("me")
	s.LoadAll([]domain.Pet{
		{ID: "b", Name: "Bun", OwnerID: "other", IsAlive: true, Status: domain.StatusHappy},
		{ID: "a", Name: "Mochi", OwnerID: "me", IsAlive: true, Status: domain.StatusHappy},
		{ID: "dead", Name: "Ghost", OwnerID: "other", IsAlive: false, Status: domain.StatusDead},
	}, []domain.User{
		{ID: "me", Username: "ana", IsOnline: true},
		{ID: "other", Username: "bo", IsOnline: false},
	})
	return s
}

type staticNotices []domain.Notification

func (n staticNotices) List() []domain.Notification { return n }

func TestBuilder_Build(t *testing.T) {
	store := newStore(t)
	store.SetWorkingPosition("a", domain.Point{X: 3, Y: 4})
	store.Select("a")
	b := NewBuilder(store, staticNotices{{ID: "n1", Message: "hi", Type: domain.NotificationInfo}})

	f := b.Build(registry.ViewFilter{})
	assert.Equal(t, MessageTypeFrame, f.Type)
	require.Len(t, f.Pets, 2)
	assert.Equal(t, "a", f.Pets[0].ID)
	assert.True(t, f.Pets[0].Placed)
	assert.True(t, f.Pets[0].Mine)
	assert.Equal(t, 3.0, f.Pets[0].X)
	assert.Equal(t, "ana", f.Pets[0].OwnerName)
	assert.False(t, f.Pets[1].Placed)
	assert.Equal(t, "bo", f.Pets[1].OwnerName)

	require.Len(t, f.OnlineUsers, 1)
	assert.Len(t, f.Notifications, 1)
	require.NotNil(t, f.Selected)
	assert.Equal(t, "a", f.Selected.ID)

	withDead := b.Build(registry.ViewFilter{ShowDeadPets: true})
	require.Len(t, withDead.Pets, 3)
	assert.Equal(t, "Knocked Out", withDead.Pets[2].DisplayStatus)
}

type pointerRecorder struct {
	mu     sync.Mutex
	points []domain.Point
}

func (p *pointerRecorder) SendMousePosition(x, y float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, domain.Point{X: x, Y: y})
	return true
}

func newController(t *testing.T) (*Controller, *registry.Store, *motion.Model, *pointerRecorder) {
	t.Helper()
	store := newStore(t)
	m := motion.NewModel(store, config.MotionConfig{
		FrameRate: 60, CanvasWidth: 800, CanvasHeight: 600, CollisionRadius: 24,
		MinDuration: 200 * time.Millisecond, MaxDuration: 2 * time.Second, PerPixel: 5 * time.Millisecond,
	}, testLogger())
	ptr := &pointerRecorder{}
	return NewController(m, store, ptr, testLogger()), store, m, ptr
}

func TestController_Routes(t *testing.T) {
	c, store, m, ptr := newController(t)

	require.NoError(t, c.HandleInput(Input{Type: InputTarget, PetID: "a", X: 10, Y: 10}))
	assert.True(t, m.HasTarget("a"))
	assert.ErrorIs(t, c.HandleInput(Input{Type: InputTarget, PetID: "dead", X: 1, Y: 1}), domain.ErrInvalidRequest)

	require.NoError(t, c.HandleInput(Input{Type: InputDragStart, PetID: "a"}))
	assert.False(t, m.HasTarget("a"))
	assert.Equal(t, "a", m.Dragging())

	require.NoError(t, c.HandleInput(Input{Type: InputDragMove, PetID: "a", X: 50, Y: 60}))
	p, ok := store.WorkingPosition("a")
	require.True(t, ok)
	assert.Equal(t, domain.Point{X: 50, Y: 60}, p)
	assert.ErrorIs(t, c.HandleInput(Input{Type: InputDragMove, PetID: "b", X: 1, Y: 1}), domain.ErrInvalidRequest)

	require.NoError(t, c.HandleInput(Input{Type: InputDragEnd, PetID: "a"}))
	assert.Empty(t, m.Dragging())

	require.NoError(t, c.HandleInput(Input{Type: InputMouseMove, X: 7, Y: 8}))
	assert.Equal(t, []domain.Point{{X: 7, Y: 8}}, ptr.points)

	require.NoError(t, c.HandleInput(Input{Type: InputSelect, PetID: "b"}))
	sel, ok := store.Selected()
	require.True(t, ok)
	assert.Equal(t, "b", sel.ID)

	assert.ErrorIs(t, c.HandleInput(Input{Type: "dance"}), domain.ErrInvalidRequest)
	assert.ErrorIs(t, c.HandleInput(Input{Type: InputDragStart, PetID: "ghost"}), domain.ErrPetNotFound)
}

type inputRecorder struct {
	mu     sync.Mutex
	inputs []Input
}

func (r *inputRecorder) HandleInput(in Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return nil
}

func (r *inputRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

func startHub(t *testing.T, input InputHandler) (*Hub, *websocket.Conn) {
	t.Helper()
	store := newStore(t)
	hub := NewHub(NewBuilder(store, nil), input, config.ViewConfig{BroadcastRate: 50}, testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = ServeWs(hub, testLogger(), w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == MessageTypeFrame {
			return f
		}
	}
}

func TestHub_PushesFramesAndRoutesInput(t *testing.T) {
	rec := &inputRecorder{}
	hub, conn := startHub(t, rec)

	f := readFrame(t, conn)
	assert.Len(t, f.Pets, 2)
	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Input{Type: InputTarget, PetID: "a", X: 1, Y: 2}))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, "a", rec.inputs[0].PetID)
	rec.mu.Unlock()

	require.NoError(t, conn.WriteJSON(Input{Type: InputFilter, ShowDeadPets: true}))
	var got int
	for i := 0; i < 50 && got != 3; i++ {
		got = len(readFrame(t, conn).Pets)
	}
	assert.Equal(t, 3, got)
	assert.Equal(t, 1, rec.count(), "filter is handled by the hub")
}

func TestHub_StopDisconnectsRenderers(t *testing.T) {
	hub, conn := startHub(t, nil)
	readFrame(t, conn)

	hub.Stop()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool { return hub.GetTotalConnections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_SendAfterCloseIsDropped(t *testing.T) {
	c := &Client{id: "c1", send: make(chan []byte, 1)}

	assert.True(t, c.enqueue([]byte("frame")))
	assert.False(t, c.enqueue([]byte("overflow")), "full buffer drops")
	<-c.send

	c.closeSend()
	c.closeSend()
	assert.False(t, c.enqueue([]byte("late")))
	assert.NotPanics(t, func() { c.sendError("late reply") })

	_, open := <-c.send
	assert.False(t, open)
}

func TestClient_ConcurrentRepliesDuringClose(t *testing.T) {
	c := &Client{id: "c1", send: make(chan []byte, 4)}
	go func() {
		for range c.send {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.sendError("busy")
			}
		}()
	}
	c.closeSend()
	wg.Wait()
}
