package msauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/odbgo/odb/internal/auth"
)

// AcquireInteractive runs the device code flow for resource. It blocks until
// the user completes sign-in in a browser, the code expires, or ctx is done.
func (f *Flow) AcquireInteractive(ctx context.Context, resource string) (auth.Credential, error) {
	if f.display == nil {
		return auth.Credential{}, ErrInteractiveUnavailable
	}

	// oauth2 picks its HTTP client off the context; without this the
	// device-code calls would bypass the configured transport.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)

	cfg := f.oauthConfig()
	resourceParam := oauth2.SetAuthURLParam("resource", resource)

	da, err := cfg.DeviceAuth(ctx, resourceParam)
	if err != nil {
		return auth.Credential{}, fmt.Errorf("msauth: requesting device code: %w", err)
	}

	f.logger.Info("device code issued, waiting for user sign-in",
		slog.String("resource", resource),
	)

	f.display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := cfg.DeviceAccessToken(ctx, da, resourceParam)
	if err != nil {
		return auth.Credential{}, classifyDeviceError(err)
	}

	f.storeToken(tok)

	f.logger.Info("user signed in",
		slog.Time("expiry", tok.Expiry),
	)

	return f.credential(tok), nil
}

// classifyDeviceError maps terminal device-flow errors onto the session
// layer's taxonomy. An explicit denial and a canceled context both count as
// the user walking away; everything else stays a plain failure.
func classifyDeviceError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("msauth: device flow: %w", auth.ErrAuthenticationCancelled)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		// The v1 endpoint reports declined consent as authorization_declined,
		// the RFC 8628 name is access_denied.
		case "authorization_declined", "access_denied":
			return fmt.Errorf("msauth: sign-in declined: %w", auth.ErrAuthenticationCancelled)
		}
	}

	return fmt.Errorf("msauth: device flow: %w", err)
}
