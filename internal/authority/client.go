// Package authority is the request/response client for the remote pet authority.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
)

const petFields = `id name ownerId happiness hunger energy health age isAlive status position { x y direction speed } emoji`

const (
	queryAllPets  = `query GetAllTamagotchis { allTamagotchis { ` + petFields + ` } }`
	queryAllUsers = `query GetAllUsers { allUsers { id username isOnline } }`

	mutationCreate   = `mutation CreateTamagotchi($input: CreateTamagotchiInput!) { createTamagotchi(input: $input) { ` + petFields + ` } }`
	mutationLocation = `mutation UpdateTamagotchiLocation($id: ID!, $x: Float!, $y: Float!) { updateTamagotchiLocation(id: $id, x: $x, y: $y) { id position { x y } } }`
	mutationRelease  = `mutation ReleaseTamagotchi($id: ID!) { releaseTamagotchi(id: $id) }`
	mutationLogin    = `mutation Login($input: LoginInput!) { login(input: $input) { token user { id username createdAt difficulty } } }`
	mutationRegister = `mutation Register($input: CreateUserInput!) { register(input: $input) { token user { id username createdAt difficulty } } }`
)

// Action is a single-pet mutation that returns the updated pet
type Action string

const (
	ActionFeed    Action = "feedTamagotchi"
	ActionPlay    Action = "playTamagotchi"
	ActionRest    Action = "sleepTamagotchi"
	ActionRevive  Action = "reviveTamagotchi"
	ActionSupport Action = "supportTamagotchi"
)

func (a Action) document() string {
	return fmt.Sprintf(`mutation ($id: ID!) { %s(id: $id) { %s } }`, a, petFields)
}

// Client talks GraphQL over HTTP to the authority
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the configured authority endpoint
func NewClient(cfg config.AuthorityConfig, logger *slog.Logger) *Client {
	return NewClientWithHTTP(cfg.URL, &http.Client{Timeout: cfg.Timeout}, logger)
}

// NewClientWithHTTP creates a client around a ready http.Client
func NewClientWithHTTP(endpoint string, hc *http.Client, logger *slog.Logger) *Client {
	return &Client{endpoint: endpoint, httpClient: hc, logger: logger}
}

// SetToken sets the bearer token sent with every request
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// do runs one GraphQL document and decodes the data object into out
func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	raw, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", domain.ErrMutationRejected, resp.StatusCode)
	}

	var gr graphQLResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%w: %s", domain.ErrMutationRejected, strings.Join(msgs, "; "))
	}
	if out == nil {
		return nil
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return fmt.Errorf("%w: empty data", domain.ErrMutationRejected)
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// AllPets fetches every pet the authority knows about
func (c *Client) AllPets(ctx context.Context) ([]domain.Pet, error) {
	var data struct {
		AllTamagotchis []domain.Pet `json:"allTamagotchis"`
	}
	if err := c.do(ctx, queryAllPets, nil, &data); err != nil {
		return nil, fmt.Errorf("fetching pets: %w", err)
	}
	return data.AllTamagotchis, nil
}

// AllUsers fetches every user account
func (c *Client) AllUsers(ctx context.Context) ([]domain.User, error) {
	var data struct {
		AllUsers []domain.User `json:"allUsers"`
	}
	if err := c.do(ctx, queryAllUsers, nil, &data); err != nil {
		return nil, fmt.Errorf("fetching users: %w", err)
	}
	return data.AllUsers, nil
}

// CreatePet asks the authority to create a pet for the current user
func (c *Client) CreatePet(ctx context.Context, name string) (domain.Pet, error) {
	var data struct {
		CreateTamagotchi *domain.Pet `json:"createTamagotchi"`
	}
	vars := map[string]any{"input": map[string]any{"name": name}}
	if err := c.do(ctx, mutationCreate, vars, &data); err != nil {
		return domain.Pet{}, fmt.Errorf("creating pet: %w", err)
	}
	if data.CreateTamagotchi == nil {
		return domain.Pet{}, fmt.Errorf("creating pet: %w", domain.ErrMutationRejected)
	}
	return *data.CreateTamagotchi, nil
}

// UpdatePetLocation stores a pet's canvas position
func (c *Client) UpdatePetLocation(ctx context.Context, id string, x, y float64) (domain.PetLocation, error) {
	var data struct {
		UpdateTamagotchiLocation *struct {
			ID       string          `json:"id"`
			Position *domain.Position `json:"position"`
		} `json:"updateTamagotchiLocation"`
	}
	vars := map[string]any{"id": id, "x": x, "y": y}
	if err := c.do(ctx, mutationLocation, vars, &data); err != nil {
		return domain.PetLocation{}, fmt.Errorf("updating location of %s: %w", id, err)
	}
	loc := domain.PetLocation{ID: id, X: x, Y: y}
	if u := data.UpdateTamagotchiLocation; u != nil && u.Position != nil {
		loc.X, loc.Y = u.Position.X, u.Position.Y
	}
	return loc, nil
}

// Act performs a single-pet action and returns the pet as the authority now sees it
func (c *Client) Act(ctx context.Context, action Action, id string) (domain.Pet, error) {
	var data map[string]*domain.Pet
	if err := c.do(ctx, action.document(), map[string]any{"id": id}, &data); err != nil {
		return domain.Pet{}, fmt.Errorf("%s %s: %w", action, id, err)
	}
	pet := data[string(action)]
	if pet == nil {
		return domain.Pet{}, fmt.Errorf("%s %s: %w", action, id, domain.ErrMutationRejected)
	}
	return *pet, nil
}

// Feed feeds a pet
func (c *Client) Feed(ctx context.Context, id string) (domain.Pet, error) {
	return c.Act(ctx, ActionFeed, id)
}

// Play plays with a pet
func (c *Client) Play(ctx context.Context, id string) (domain.Pet, error) {
	return c.Act(ctx, ActionPlay, id)
}

// Rest puts a pet to sleep
func (c *Client) Rest(ctx context.Context, id string) (domain.Pet, error) {
	return c.Act(ctx, ActionRest, id)
}

// Revive brings a knocked out pet back
func (c *Client) Revive(ctx context.Context, id string) (domain.Pet, error) {
	return c.Act(ctx, ActionRevive, id)
}

// Support sends love to another player's pet
func (c *Client) Support(ctx context.Context, id string) (domain.Pet, error) {
	return c.Act(ctx, ActionSupport, id)
}

// Release gives up a pet. The authority reports success as a bare boolean.
func (c *Client) Release(ctx context.Context, id string) (bool, error) {
	var data struct {
		ReleaseTamagotchi bool `json:"releaseTamagotchi"`
	}
	if err := c.do(ctx, mutationRelease, map[string]any{"id": id}, &data); err != nil {
		return false, fmt.Errorf("releasing %s: %w", id, err)
	}
	return data.ReleaseTamagotchi, nil
}

type authPayload struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Login exchanges credentials for a session and adopts its token
func (c *Client) Login(ctx context.Context, username, password string) (domain.Session, error) {
	return c.authenticate(ctx, mutationLogin, "login", username, password)
}

// Register creates an account and adopts the new session's token
func (c *Client) Register(ctx context.Context, username, password string) (domain.Session, error) {
	return c.authenticate(ctx, mutationRegister, "register", username, password)
}

func (c *Client) authenticate(ctx context.Context, doc, field, username, password string) (domain.Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return domain.Session{}, fmt.Errorf("%s: %w", field, domain.ErrInvalidRequest)
	}
	var data map[string]*authPayload
	vars := map[string]any{"input": map[string]any{"username": username, "password": password}}
	if err := c.do(ctx, doc, vars, &data); err != nil {
		return domain.Session{}, fmt.Errorf("%s: %w", field, err)
	}
	p := data[field]
	if p == nil || p.Token == "" {
		return domain.Session{}, fmt.Errorf("%s: %w", field, errors.New("no token issued"))
	}
	c.SetToken(p.Token)
	c.logger.Info("authenticated", "user_id", p.User.ID, "username", p.User.Username)
	return domain.Session{Token: p.Token, User: p.User}, nil
}
