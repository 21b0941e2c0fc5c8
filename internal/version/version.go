package version

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	Current       = "v0.3.0" // Will be overwritten by ldflags during build
	GitHubAPI     = "https://api.github.com/repos/chukul/oktactl/releases/latest"
	CheckInterval = 24 * time.Hour
)

type gitHubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

type lastCheck struct {
	LastChecked   time.Time `json:"last_checked"`
	LatestVersion string    `json:"latest_version"`
}

// CheckForUpdates checks if a new version is available (non-blocking)
func CheckForUpdates() {
	if !shouldCheck() {
		return
	}

	go func() {
		latest, url, err := FetchLatest()
		if err != nil {
			return // Silently fail
		}

		if IsNewer(latest, Current) {
			fmt.Fprintf(os.Stderr, "\n💡 Update available: %s → %s\n", Current, latest)
			fmt.Fprintf(os.Stderr, "   Download: %s\n\n", url)
		}

		saveCheck(latest)
	}()
}

func shouldCheck() bool {
	data, err := os.ReadFile(checkPath())
	if err != nil {
		return true
	}

	var check lastCheck
	if err := json.Unmarshal(data, &check); err != nil {
		return true
	}

	return time.Since(check.LastChecked) > CheckInterval
}

func FetchLatest() (string, string, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(GitHubAPI)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var release gitHubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return "", "", err
	}

	return release.TagName, release.HTMLURL, nil
}

func IsNewer(latest, current string) bool {
	// Simple version comparison (assumes semantic versioning)
	latest = strings.TrimPrefix(latest, "v")
	current = strings.TrimPrefix(current, "v")
	return latest > current
}

func checkPath() string {
	home := os.Getenv("OKTACTL_HOME")
	if home == "" {
		home = filepath.Join(os.Getenv("HOME"), ".oktactl")
	}
	return filepath.Join(home, "version_check.json")
}

func saveCheck(v string) {
	data, _ := json.Marshal(lastCheck{LastChecked: time.Now(), LatestVersion: v})
	os.WriteFile(checkPath(), data, 0600)
}
