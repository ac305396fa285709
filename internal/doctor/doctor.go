// Package doctor runs local preflight diagnostics: configuration posture,
// file permissions around credentials, and agent availability.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/profile"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

func (r Report) HasHigh() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Run executes all local diagnostics.
func Run() (Report, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return Report{}, err
	}

	var issues []Issue

	if cfg.InsecureSkipHostKey {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "host-key-policy",
			Target:         "config.yaml",
			Message:        "host key verification is disabled",
			Recommendation: "unset insecure_skip_host_key and maintain ~/.ssh/known_hosts",
		})
	}

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		checkPathPerm(&issues, filepath.Join(home, ".ssh"), 0o700, false)
		if !cfg.InsecureSkipHostKey {
			kh := filepath.Join(home, ".ssh", "known_hosts")
			if _, err := os.Stat(kh); os.IsNotExist(err) {
				issues = append(issues, Issue{
					Severity:       SeverityMedium,
					Check:          "known-hosts",
					Target:         kh,
					Message:        "known_hosts is missing while host key verification is strict",
					Recommendation: "seed known_hosts (e.g. ssh-keyscan) before connecting",
				})
			}
		}
	}

	cfgDir, err := appconfig.ConfigDir()
	if err == nil {
		checkPathPerm(&issues, cfgDir, 0o755, false)
		checkPathPerm(&issues, filepath.Join(cfgDir, "profiles.yaml"), 0o600, true)
		checkPathPerm(&issues, filepath.Join(cfgDir, "events.jsonl"), 0o600, true)
	}

	if os.Getenv("SSH_AUTH_SOCK") == "" {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "ssh-agent",
			Target:         "SSH_AUTH_SOCK",
			Message:        "no SSH agent socket in the environment",
			Recommendation: "start ssh-agent (or rely on key files and passwords)",
		})
	}

	if profiles, err := profile.LoadAll(); err == nil {
		seen := map[string]struct{}{}
		for _, p := range profiles {
			key := strings.TrimSpace(p.KeyFile)
			if key == "" {
				continue
			}
			if strings.HasPrefix(key, "~/") && home != "" {
				key = filepath.Join(home, key[2:])
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if _, err := os.Stat(key); os.IsNotExist(err) {
				issues = append(issues, Issue{
					Severity:       SeverityMedium,
					Check:          "profile-key",
					Target:         key,
					Message:        fmt.Sprintf("key file for profile %q does not exist", p.Name),
					Recommendation: "fix the profile's key_file path or remove the profile",
				})
				continue
			}
			checkPathPerm(&issues, key, 0o600, true)
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri, rj := severityRank(issues[i].Severity), severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		return issues[i].Target < issues[j].Target
	})
	return Report{Issues: issues}, nil
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func checkPathPerm(issues *[]Issue, path string, max os.FileMode, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*issues = append(*issues, Issue{
			Severity:       SeverityLow,
			Check:          "permissions",
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode > max {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*issues = append(*issues, Issue{
			Severity:       SeverityMedium,
			Check:          "permissions",
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
