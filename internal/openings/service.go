package openings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("opening not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyClosed = errors.New("opening already closed")
)

// Validation bounds for opening fields.
const (
	titleMinLen       = 4
	titleMaxLen       = 80
	descriptionMinLen = 15
	descriptionMaxLen = 360
	contactMinLen     = 3
	contactMaxLen     = 120
	maxTags           = 8
)

// Store persists openings.
type Store interface {
	Insert(ctx context.Context, o Opening) error
	Get(ctx context.Context, id string) (Opening, error)
	List(ctx context.Context) ([]Opening, error)
	// Update applies the patch and returns the number of rows affected.
	Update(ctx context.Context, id string, p Patch, now time.Time) (int64, error)
	// MarkClosed stamps closed_at, but only if the opening is still open.
	// Reports whether this call performed the close.
	MarkClosed(ctx context.Context, id string, now time.Time) (bool, error)
	Delete(ctx context.Context, id string) (int64, error)
	Transfer(ctx context.Context, id string, owner Author, now time.Time) (int64, error)
	// EnsureAuthor inserts an identity row for the owner when none exists.
	EnsureAuthor(ctx context.Context, owner Author) error
}

// EventType labels a lifecycle event.
type EventType string

const (
	EventCreated     EventType = "opening.created"
	EventUpdated     EventType = "opening.updated"
	EventClosed      EventType = "opening.closed"
	EventDeleted     EventType = "opening.deleted"
	EventTransferred EventType = "opening.transferred"
)

// Event is a lifecycle notification published to subscribers.
type Event struct {
	Type    EventType `json:"type"`
	Opening Opening   `json:"opening"`
	At      time.Time `json:"at"`
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

type noopSink struct{}

func (noopSink) Publish(Event) {}

// Service manages the opening lifecycle.
type Service struct {
	store Store
	sink  EventSink
	now   func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventSink wires lifecycle event delivery.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// NewService builds an opening service over the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		sink:  noopSink{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and records a new opening authored by the caller.
func (s *Service) Create(ctx context.Context, author Author, in CreateInput) (Opening, error) {
	title, err := validateTitle(in.Title)
	if err != nil {
		return Opening{}, err
	}
	description, err := validateDescription(in.Description)
	if err != nil {
		return Opening{}, err
	}
	category, err := ParseCategory(in.Category)
	if err != nil {
		return Opening{}, err
	}
	contact, err := validateContact(in.Contact)
	if err != nil {
		return Opening{}, err
	}
	tags, err := validateTags(in.Tags)
	if err != nil {
		return Opening{}, err
	}
	if author.ID == "" {
		return Opening{}, fmt.Errorf("%w: author is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	o := Opening{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Category:    category,
		Tags:        tags,
		Contact:     contact,
		AuthorID:    author.ID,
		AuthorName:  author.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Insert(ctx, o); err != nil {
		return Opening{}, fmt.Errorf("insert opening: %w", err)
	}
	s.sink.Publish(Event{Type: EventCreated, Opening: o, At: now})
	return o, nil
}

// Get returns one opening by id.
func (s *Service) Get(ctx context.Context, id string) (Opening, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Opening{}, fmt.Errorf("%w: opening id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns openings, newest first. Closed openings are filtered out
// unless includeClosed is set; then they carry their closed_at stamp so
// clients can render them struck through.
func (s *Service) List(ctx context.Context, includeClosed bool) ([]Opening, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if includeClosed {
		return all, nil
	}
	open := make([]Opening, 0, len(all))
	for _, o := range all {
		if o.Open() {
			open = append(open, o)
		}
	}
	return open, nil
}

// Update applies a partial edit to an opening.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Opening, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Opening{}, fmt.Errorf("%w: opening id is required", ErrInvalidInput)
	}
	if p.Empty() {
		return Opening{}, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}
	if p.Title != nil {
		title, err := validateTitle(*p.Title)
		if err != nil {
			return Opening{}, err
		}
		p.Title = &title
	}
	if p.Description != nil {
		description, err := validateDescription(*p.Description)
		if err != nil {
			return Opening{}, err
		}
		p.Description = &description
	}
	if p.Category != nil {
		category, err := ParseCategory(*p.Category)
		if err != nil {
			return Opening{}, err
		}
		normalized := string(category)
		p.Category = &normalized
	}
	if p.Contact != nil {
		contact, err := validateContact(*p.Contact)
		if err != nil {
			return Opening{}, err
		}
		p.Contact = &contact
	}
	if p.Tags != nil {
		tags, err := validateTags(*p.Tags)
		if err != nil {
			return Opening{}, err
		}
		p.Tags = &tags
	}

	now := s.now().UTC()
	n, err := s.store.Update(ctx, id, p, now)
	if err != nil {
		return Opening{}, fmt.Errorf("update opening: %w", err)
	}
	if n == 0 {
		return Opening{}, ErrNotFound
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Opening{}, err
	}
	s.sink.Publish(Event{Type: EventUpdated, Opening: o, At: now})
	return o, nil
}

// Close marks the caller's own opening as closed. Exactly one concurrent
// close wins; the rest observe ErrAlreadyClosed.
func (s *Service) Close(ctx context.Context, id, requesterID string) (Opening, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Opening{}, fmt.Errorf("%w: opening id is required", ErrInvalidInput)
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Opening{}, err
	}
	if o.AuthorID != requesterID {
		return Opening{}, fmt.Errorf("%w: only the author may close an opening", ErrForbidden)
	}
	if o.ClosedAt != nil {
		return Opening{}, ErrAlreadyClosed
	}

	now := s.now().UTC()
	won, err := s.store.MarkClosed(ctx, id, now)
	if err != nil {
		return Opening{}, fmt.Errorf("close opening: %w", err)
	}
	if !won {
		return Opening{}, ErrAlreadyClosed
	}
	o.ClosedAt = &now
	o.UpdatedAt = now
	s.sink.Publish(Event{Type: EventClosed, Opening: o, At: now})
	return o, nil
}

// AdminDelete removes an opening outright, regardless of author or state.
func (s *Service) AdminDelete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: opening id is required", ErrInvalidInput)
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete opening: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.sink.Publish(Event{Type: EventDeleted, Opening: o, At: s.now().UTC()})
	return nil
}

// TransferOwnership reassigns an opening to a new owner. The caller resolves
// the owner's display name; unknown owners get an identity row created.
func (s *Service) TransferOwnership(ctx context.Context, id string, owner Author) (Opening, error) {
	id = strings.TrimSpace(id)
	owner.ID = strings.TrimSpace(owner.ID)
	if id == "" {
		return Opening{}, fmt.Errorf("%w: opening id is required", ErrInvalidInput)
	}
	if owner.ID == "" {
		return Opening{}, fmt.Errorf("%w: new owner id is required", ErrInvalidInput)
	}
	if err := s.store.EnsureAuthor(ctx, owner); err != nil {
		return Opening{}, fmt.Errorf("ensure author: %w", err)
	}

	now := s.now().UTC()
	n, err := s.store.Transfer(ctx, id, owner, now)
	if err != nil {
		return Opening{}, fmt.Errorf("transfer opening: %w", err)
	}
	if n == 0 {
		return Opening{}, ErrNotFound
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Opening{}, err
	}
	s.sink.Publish(Event{Type: EventTransferred, Opening: o, At: now})
	return o, nil
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if n := len([]rune(title)); n < titleMinLen || n > titleMaxLen {
		return "", fmt.Errorf("%w: title must be %d-%d characters", ErrInvalidInput, titleMinLen, titleMaxLen)
	}
	return title, nil
}

func validateDescription(raw string) (string, error) {
	description := strings.TrimSpace(raw)
	if n := len([]rune(description)); n < descriptionMinLen || n > descriptionMaxLen {
		return "", fmt.Errorf("%w: description must be %d-%d characters", ErrInvalidInput, descriptionMinLen, descriptionMaxLen)
	}
	return description, nil
}

func validateContact(raw string) (string, error) {
	contact := strings.TrimSpace(raw)
	if n := len([]rune(contact)); n < contactMinLen || n > contactMaxLen {
		return "", fmt.Errorf("%w: contact must be %d-%d characters", ErrInvalidInput, contactMinLen, contactMaxLen)
	}
	return contact, nil
}

func validateTags(raw []string) ([]string, error) {
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, fmt.Errorf("%w: tags must be non-empty", ErrInvalidInput)
		}
		tags = append(tags, t)
	}
	if len(tags) > maxTags {
		return nil, fmt.Errorf("%w: at most %d tags", ErrInvalidInput, maxTags)
	}
	return tags, nil
}
