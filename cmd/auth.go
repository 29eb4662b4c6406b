package main

import (
	"context"
	"time"

	"github.com/desertthunder/spotidal/internal/auth"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/urfave/cli/v3"
)

// AuthStatus reports which services have a stored token and whether it is still valid.
//
// Nothing is refreshed; expired tokens with a refresh token renew on next use.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	statuses := []auth.Status{}
	for _, service := range []string{models.ServiceSpotify, models.ServiceTidal} {
		p, err := r.provider(service)
		if err != nil {
			r.logger.Debug("service not configured", "service", service)
			continue
		}
		st, err := p.Status(ctx)
		if err != nil {
			return err
		}
		statuses = append(statuses, st)
	}

	if cmd.Bool("json") {
		return r.writeJSON(statuses, cmd.Bool("pretty"))
	}

	r.writePlain("Token store: %s\n\n", r.config.Tokens.Backend)
	if len(statuses) == 0 {
		return r.writePlain("No services configured. Add credentials to %s\n", r.configPath)
	}
	for _, st := range statuses {
		label := serviceLabels[st.Service]
		switch {
		case !st.Authenticated:
			r.writePlain("%s: ✗ Not authenticated\n", label)
		case st.Expired && st.HasRefresh:
			r.writePlain("%s: ✓ Authenticated (token expired, will refresh)\n", label)
		case st.Expired:
			r.writePlain("%s: ✗ Token expired, run 'spotidal %s auth'\n", label, st.Service)
		default:
			r.writePlain("%s: ✓ Authenticated\n", label)
		}
		if st.Authenticated && !st.Expiry.IsZero() {
			r.writePlain("  Expires: %s\n", st.Expiry.Local().Format(time.RFC1123))
		}
	}
	return nil
}
