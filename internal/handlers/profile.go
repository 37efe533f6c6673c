package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haasonsaas/pam/internal/storage"
)

// ProfileData is the data returned by getUserProfile.
type ProfileData struct {
	Found    bool              `json:"found"`
	Profile  *storage.Profile  `json:"profile,omitempty"`
	Vehicles []storage.Vehicle `json:"vehicles,omitempty"`
}

// ProfileOptions are the normalised getUserProfile arguments.
type ProfileOptions struct {
	IncludeVehicles bool
}

// Profile serves the user's profile.
type Profile struct {
	store  storage.Store
	logger *slog.Logger
}

// NewProfile creates the profile handler.
func NewProfile(store storage.Store, logger *slog.Logger) *Profile {
	return &Profile{store: store, logger: loggerOrDefault(logger)}
}

// Get returns the profile and optionally the user's vehicles.
func (p *Profile) Get(ctx context.Context, userID string, opts ProfileOptions) Result {
	profile, err := p.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return OK(ProfileData{Found: false})
	}
	if err != nil {
		return storeFailure(p.logger, "get profile", userID, err,
			"I couldn't retrieve your profile right now. Please try again.")
	}

	data := ProfileData{Found: true, Profile: profile}
	if opts.IncludeVehicles {
		vehicles, err := p.store.ListVehicles(ctx, userID)
		if err != nil {
			return storeFailure(p.logger, "list vehicles", userID, err,
				"I couldn't retrieve your vehicles right now. Please try again.")
		}
		data.Vehicles = vehicles
	}
	return OK(data)
}
