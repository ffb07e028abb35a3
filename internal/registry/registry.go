// Package registry manages the integrations that receive webhook
// notifications.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/zentryhq/zentry-webhooks/internal/models"
	"github.com/zentryhq/zentry-webhooks/internal/storage"
)

type CreateInput struct {
	Name            string   `json:"name" validate:"required,max=100"`
	DestinationKind string   `json:"destination_kind" validate:"required"`
	TargetURL       string   `json:"target_url" validate:"required,max=500,url"`
	ProjectID       string   `json:"project_id" validate:"max=64"`
	OwnerID         string   `json:"owner_id" validate:"required,max=64"`
	EventKinds      []string `json:"event_kinds"`
	Active          *bool    `json:"active"`
}

// UpdateInput leaves empty fields and a nil EventKinds unchanged.
type UpdateInput struct {
	Name            string    `json:"name" validate:"omitempty,max=100"`
	DestinationKind string    `json:"destination_kind"`
	TargetURL       string    `json:"target_url" validate:"omitempty,max=500,url"`
	ProjectID       string    `json:"project_id" validate:"omitempty,max=64"`
	EventKinds      *[]string `json:"event_kinds"`
}

type Registry struct {
	store    storage.Storage
	validate *validator.Validate
	log      zerolog.Logger
}

func New(store storage.Storage, log zerolog.Logger) *Registry {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Registry{store: store, validate: v, log: log}
}

func (r *Registry) Create(ctx context.Context, in CreateInput) (*models.Integration, error) {
	if err := r.check(ctx, in); err != nil {
		return nil, err
	}
	dest, err := models.ParseDestinationKind(in.DestinationKind)
	if err != nil {
		return nil, err
	}
	if err := checkTarget(in.TargetURL); err != nil {
		return nil, err
	}
	kinds, err := models.ParseEventKindSet(in.EventKinds)
	if err != nil {
		return nil, err
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}

	now := time.Now().UTC()
	ig := &models.Integration{
		ID:              models.NewID("int"),
		Name:            strings.TrimSpace(in.Name),
		DestinationKind: dest,
		TargetURL:       in.TargetURL,
		ProjectID:       in.ProjectID,
		OwnerID:         in.OwnerID,
		EventKinds:      kinds,
		Active:          active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.CreateIntegration(ctx, ig); err != nil {
		return nil, fmt.Errorf("create integration: %w", err)
	}

	r.log.Info().
		Str("integration_id", ig.ID).
		Str("destination_kind", string(ig.DestinationKind)).
		Str("project_id", ig.ProjectID).
		Msg("integration created")
	return ig, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Integration, error) {
	ig, err := r.store.GetIntegration(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	if ig == nil {
		return nil, models.ErrIntegrationNotFound
	}
	return ig, nil
}

func (r *Registry) List(ctx context.Context, filter models.IntegrationFilter) ([]models.Integration, error) {
	if filter.DestinationKind != "" {
		dest, err := models.ParseDestinationKind(string(filter.DestinationKind))
		if err != nil {
			return nil, err
		}
		filter.DestinationKind = dest
	}
	return r.store.ListIntegrations(ctx, filter)
}

func (r *Registry) Update(ctx context.Context, id string, in UpdateInput) (*models.Integration, error) {
	if err := r.check(ctx, in); err != nil {
		return nil, err
	}
	ig, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		ig.Name = strings.TrimSpace(in.Name)
	}
	if in.DestinationKind != "" {
		dest, err := models.ParseDestinationKind(in.DestinationKind)
		if err != nil {
			return nil, err
		}
		ig.DestinationKind = dest
	}
	if in.TargetURL != "" {
		if err := checkTarget(in.TargetURL); err != nil {
			return nil, err
		}
		ig.TargetURL = in.TargetURL
	}
	if in.ProjectID != "" {
		ig.ProjectID = in.ProjectID
	}
	if in.EventKinds != nil {
		kinds, err := models.ParseEventKindSet(*in.EventKinds)
		if err != nil {
			return nil, err
		}
		ig.EventKinds = kinds
	}
	ig.UpdatedAt = time.Now().UTC()

	if err := r.store.UpdateIntegration(ctx, ig); err != nil {
		return nil, fmt.Errorf("update integration: %w", err)
	}
	return ig, nil
}

func (r *Registry) Activate(ctx context.Context, id string) (*models.Integration, error) {
	return r.setActive(ctx, id, true)
}

// Deactivate hides the integration from dispatch. Sends already in flight
// are allowed to finish.
func (r *Registry) Deactivate(ctx context.Context, id string) (*models.Integration, error) {
	return r.setActive(ctx, id, false)
}

func (r *Registry) setActive(ctx context.Context, id string, active bool) (*models.Integration, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := r.store.SetIntegrationActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("set integration active: %w", err)
	}
	r.log.Info().Str("integration_id", id).Bool("active", active).Msg("integration state changed")
	return r.Get(ctx, id)
}

// Delete removes the integration together with its delivery log.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.store.DeleteIntegration(ctx, id); err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	r.log.Info().Str("integration_id", id).Msg("integration deleted")
	return nil
}

// FindActiveSubscribers returns the active integrations subscribed to kind.
// A non-empty projectID restricts the result to that project.
func (r *Registry) FindActiveSubscribers(ctx context.Context, kind models.EventKind, projectID string) ([]models.Integration, error) {
	return r.store.FindActiveSubscribers(ctx, kind, projectID)
}

func (r *Registry) check(ctx context.Context, in any) error {
	err := r.validate.StructCtx(ctx, in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &models.ConfigurationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "url":
		return "must be a valid URL"
	}
	return "failed " + fe.Tag() + " validation"
}

// checkTarget only checks that the URL is well formed. Whether it is
// reachable is discovered at send time.
func checkTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &models.ConfigurationError{Field: "target_url", Reason: "must be a valid HTTP or HTTPS URL"}
	}
	return nil
}
