// Package control exposes the running engine over a local HTTP API used by
// the CLI, the overlay, and host adapters that push foreground transitions.
package control

import (
	"time"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// Intervention is the wire form of domain.Intervention.
type Intervention struct {
	ID               string    `json:"id"`
	PackageID        string    `json:"packageId"`
	DisplayName      string    `json:"displayName,omitempty"`
	Mode             string    `json:"mode"`
	Message          string    `json:"message"`
	RequiresPassword bool      `json:"requiresPassword"`
	DismissCorner    string    `json:"dismissCorner"`
	PresentedAt      time.Time `json:"presentedAt"`
}

// Policy is the status view of one policy. The password is never exposed.
type Policy struct {
	PackageID        string `json:"packageId"`
	DisplayName      string `json:"displayName,omitempty"`
	Mode             string `json:"mode"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
	MaxOpens         int    `json:"maxOpens"`
	CurrentOpens     int    `json:"currentOpens"`
	HasPassword      bool   `json:"hasPassword"`
}

// Status is the engine snapshot returned by GET /api/v1/status.
type Status struct {
	Running      bool                  `json:"running"`
	Ticks        int64                 `json:"ticks"`
	Foreground   string                `json:"foreground,omitempty"`
	InBackground bool                  `json:"inBackground"`
	SessionStart *time.Time            `json:"sessionStart,omitempty"`
	Active       *Intervention         `json:"active,omitempty"`
	LastReset    *time.Time            `json:"lastReset,omitempty"`
	LastTickMs   int64                 `json:"lastTickMs"`
	Policies     []Policy              `json:"policies"`
	Daemons      *domain.RegistryEntry `json:"daemons,omitempty"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type passwordResponse struct {
	Accepted bool `json:"accepted"`
}

type forgotResponse struct {
	Redirect bool `json:"redirect"`
}

type foregroundRequest struct {
	PackageID string     `json:"packageId"`
	At        *time.Time `json:"at,omitempty"`
}

var cornerNames = map[domain.Corner]string{
	domain.CornerTopLeft:     "top-left",
	domain.CornerTopRight:    "top-right",
	domain.CornerBottomLeft:  "bottom-left",
	domain.CornerBottomRight: "bottom-right",
}

// ParseCorner maps a wire corner name back to domain.Corner.
// Unknown names fall back to the bottom right.
func ParseCorner(name string) domain.Corner {
	for c, n := range cornerNames {
		if n == name {
			return c
		}
	}
	return domain.CornerBottomRight
}

func toIntervention(iv *domain.Intervention) *Intervention {
	if iv == nil {
		return nil
	}
	return &Intervention{
		ID:               iv.ID,
		PackageID:        iv.PackageID,
		DisplayName:      iv.DisplayName,
		Mode:             iv.Mode.String(),
		Message:          iv.Message,
		RequiresPassword: iv.RequiresPassword,
		DismissCorner:    cornerNames[iv.DismissCorner],
		PresentedAt:      iv.PresentedAt,
	}
}

// PolicyView returns the status view of p.
func PolicyView(p domain.AppPolicy) Policy {
	return Policy{
		PackageID:        p.PackageID,
		DisplayName:      p.DisplayName,
		Mode:             p.Mode.String(),
		TimeLimitSeconds: p.TimeLimitSeconds,
		MaxOpens:         p.MaxOpens,
		CurrentOpens:     p.CurrentOpens,
		HasPassword:      p.Password != "",
	}
}
