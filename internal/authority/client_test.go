package authority

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petsync/internal/domain"
)

type recordedRequest struct {
	Auth      string
	Query     string
	Variables map[string]any
}

func newTestServer(t *testing.T, respond func(query string) string) (*httptest.Server, *[]recordedRequest) {
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var gr graphQLRequest
		assert.NoError(t, json.Unmarshal(body, &gr))
		reqs = append(reqs, recordedRequest{Auth: r.Header.Get("Authorization"), Query: gr.Query, Variables: gr.Variables})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(gr.Query)))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClientWithHTTP(srv.URL, &http.Client{Timeout: 2 * time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_AllPetsDecodesPositions(t *testing.T) {
	srv, reqs := newTestServer(t, func(string) string {
		return `{"data":{"allTamagotchis":[
			{"id":"p1","name":"Mochi","ownerId":"u1","happiness":50,"isAlive":true,"status":"Happy","position":{"x":1,"y":2,"direction":0.5,"speed":3}},
			{"id":"p2","name":"Bun","ownerId":"u2","isAlive":false,"status":"Dead","position":null}
		]}}`
	})
	c := newTestClient(srv)
	c.SetToken("tok")

	pets, err := c.AllPets(context.Background())
	require.NoError(t, err)
	require.Len(t, pets, 2)
	assert.Equal(t, "u1", pets[0].OwnerID)
	require.NotNil(t, pets[0].Position)
	assert.Equal(t, 2.0, pets[0].Position.Y)
	require.NotNil(t, pets[0].Position.Speed)
	assert.Nil(t, pets[1].Position)

	require.Len(t, *reqs, 1)
	assert.Equal(t, "Bearer tok", (*reqs)[0].Auth)
	assert.Contains(t, (*reqs)[0].Query, "allTamagotchis")
}

func TestClient_ErrorsAreRejections(t *testing.T) {
	srv, _ := newTestServer(t, func(string) string {
		return `{"data":null,"errors":[{"message":"Not authorized to revive this Tamagotchi"}]}`
	})
	c := newTestClient(srv)

	_, err := c.Revive(context.Background(), "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMutationRejected)
	assert.Contains(t, err.Error(), "Not authorized")
}

func TestClient_ActionsUseTheirMutation(t *testing.T) {
	srv, reqs := newTestServer(t, func(q string) string {
		for _, a := range []Action{ActionFeed, ActionPlay, ActionRest, ActionRevive, ActionSupport} {
			if strings.Contains(q, string(a)) {
				return `{"data":{"` + string(a) + `":{"id":"p1","hunger":10,"isAlive":true}}}`
			}
		}
		return `{"data":null}`
	})
	c := newTestClient(srv)
	ctx := context.Background()

	calls := []func(context.Context, string) (domain.Pet, error){c.Feed, c.Play, c.Rest, c.Revive, c.Support}
	for _, call := range calls {
		p, err := call(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 10, p.Hunger)
	}
	require.Len(t, *reqs, 5)
	assert.Contains(t, (*reqs)[2].Query, "sleepTamagotchi")
	assert.Equal(t, "p1", (*reqs)[0].Variables["id"])
}

func TestClient_ReleaseAndLocation(t *testing.T) {
	srv, reqs := newTestServer(t, func(q string) string {
		if strings.Contains(q, "releaseTamagotchi") {
			return `{"data":{"releaseTamagotchi":true}}`
		}
		return `{"data":{"updateTamagotchiLocation":{"id":"p1","position":{"x":800,"y":12}}}}`
	})
	c := newTestClient(srv)

	ok, err := c.Release(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	loc, err := c.UpdatePetLocation(context.Background(), "p1", 900, 12)
	require.NoError(t, err)
	assert.Equal(t, domain.PetLocation{ID: "p1", X: 800, Y: 12}, loc)
	assert.Equal(t, 900.0, (*reqs)[1].Variables["x"])
}

func TestClient_LoginAdoptsToken(t *testing.T) {
	srv, reqs := newTestServer(t, func(q string) string {
		if strings.Contains(q, "login") {
			return `{"data":{"login":{"token":"abc","user":{"id":"u1","username":"ann"}}}}`
		}
		return `{"data":{"allUsers":[{"id":"u1","username":"ann","isOnline":true}]}}`
	})
	c := newTestClient(srv)

	sess, err := c.Login(context.Background(), "ann", "pw")
	require.NoError(t, err)
	assert.Equal(t, "abc", sess.Token)
	assert.Equal(t, "u1", sess.User.ID)

	users, err := c.AllUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].IsOnline)
	assert.Equal(t, "Bearer abc", (*reqs)[1].Auth)

	_, err = c.Register(context.Background(), " ", "pw")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestClient_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreatePet(context.Background(), "Mochi")
	assert.ErrorIs(t, err, domain.ErrMutationRejected)
}
