package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/chukul/oktactl/internal/okta"
	"github.com/chukul/oktactl/internal/secrets"
	"github.com/chukul/oktactl/internal/ui"
)

// promptUsername asks for the Okta username, defaulting to the local one.
func promptUsername(organization string) (string, error) {
	placeholder := ""
	if u, err := user.Current(); err == nil {
		placeholder = u.Username
	}
	name, err := ui.Input(fmt.Sprintf("Username for %s", organization), placeholder, false)
	if err != nil {
		return "", err
	}
	if name == "" && placeholder != "" {
		return placeholder, nil
	}
	return name, nil
}

// confirm asks a yes/no question on the terminal.
func confirm(question string, defaultYes bool) bool {
	suffix := "(y/N)"
	if defaultYes {
		suffix = "(Y/n)"
	}
	fmt.Printf("%s %s: ", question, suffix)
	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))
	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}

// openSessionCache wires the keyring-protected session cache. A keyring
// failure degrades to no caching; it never blocks a login.
func openSessionCache(store *secrets.Store) *secrets.SessionCache {
	if store == nil {
		return nil
	}
	key, err := store.CacheKey()
	if err != nil {
		log.Warn("session cache unavailable", "error", err)
		return nil
	}
	path, err := secrets.DefaultSessionCachePath()
	if err != nil {
		return nil
	}
	return secrets.NewSessionCache(path, key)
}

// negotiateSession obtains an authenticated Okta session for the
// organization: from the encrypted cache when possible, otherwise by
// running the full login and MFA negotiation.
func negotiateSession(ctx context.Context, client *okta.Client, organization, username string, forceNew bool) (*okta.Session, error) {
	store, err := secrets.Open()
	if err != nil {
		log.Warn("keyring unavailable, passwords will not be remembered", "error", err)
		store = nil
	}
	cache := openSessionCache(store)

	if cache != nil && !forceNew {
		if session, err := cache.Get(organization); err == nil && session != nil {
			if err := client.Resume(ctx, session); err == nil {
				log.Info("reusing cached session", "organization", organization, "expires", session.ExpiresAt)
				return session, nil
			}
			log.Debug("cached session rejected, re-authenticating")
			cache.Drop(organization)
		}
	}

	password := ""
	fromKeyring := false
	if store != nil {
		if password = store.Password(organization, username); password != "" {
			fromKeyring = true
		}
	}
	if password == "" {
		password, err = ui.Input(fmt.Sprintf("Password for %s@%s", username, organization), "", true)
		if err != nil {
			return nil, err
		}
	}

	neg := okta.NewNegotiator(client)
	session, err := neg.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, okta.ErrInvalidCredentials) && fromKeyring && store != nil {
			store.DeletePassword(organization, username)
		}
		return nil, err
	}

	if session == nil {
		session, err = resolveChallenges(ctx, neg)
		if err != nil {
			return nil, err
		}
	}

	if store != nil && !fromKeyring {
		store.SetPassword(organization, username, password)
	}
	if cache != nil {
		if err := cache.Put(organization, session); err != nil {
			log.Warn("could not cache session", "error", err)
		}
	}
	return session, nil
}

// resolveChallenges drives the MFA portion of the state machine: pick a
// factor, answer it, retry or fall through to the next factor on
// rejection.
func resolveChallenges(ctx context.Context, neg *okta.Negotiator) (*okta.Session, error) {
	for {
		factors := neg.Factors()
		if len(factors) == 0 {
			return nil, &okta.AuthError{Phase: "challenge", Err: okta.ErrNoFactorsRemaining}
		}

		factor := factors[0]
		if len(factors) > 1 {
			options := make([]string, len(factors))
			for i, f := range factors {
				options[i] = f.String()
			}
			idx, err := ui.Select("Choose MFA option", options)
			if err != nil {
				return nil, err
			}
			factor = factors[idx]
		}

		response := ""
		if factor.Prompted() {
			var err error
			response, err = ui.Input(factor.String(), "", true)
			if err != nil {
				return nil, err
			}
		} else {
			fmt.Println("📲 Waiting for push approval...")
		}

		session, err := neg.ResolveFactor(ctx, factor, response)
		if err != nil {
			if errors.Is(err, okta.ErrFactorRejected) {
				fmt.Fprintln(os.Stderr, "❌ Verification rejected, try again.")
				continue
			}
			return nil, err
		}
		return session, nil
	}
}
