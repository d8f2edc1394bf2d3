package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/aoe-sh/gateway/internal/config"
	"github.com/aoe-sh/gateway/internal/parse"
)

// VerifierCandidates parses the configured verifier role CSV, falling back
// to the built-in candidate list when nothing usable is configured.
func VerifierCandidates(csv string) []string {
	src := strings.TrimSpace(csv)
	if src == "" {
		src = config.DefaultVerifierRoles
	}
	parsed := parse.SplitRolesCSV(src)
	if len(parsed) == 0 {
		parsed = parse.SplitRolesCSV(config.DefaultVerifierRoles)
	}
	return parsed
}

// EnsureVerifierRoles makes sure the selection contains a verifier when one
// is available. Returns the (possibly grown) selection, the verifiers inside
// it, whether one was auto-added, and the verifiers present in the project.
func EnsureVerifierRoles(selectedRoles, availableRoles, verifierCandidates []string) (selected, selectedVerifiers []string, added bool, availableVerifiers []string) {
	selected = parse.DedupeRoles(selectedRoles)
	available := parse.DedupeRoles(availableRoles)

	candidateKeys := map[string]struct{}{}
	for _, c := range verifierCandidates {
		if c != "" {
			candidateKeys[strings.ToLower(c)] = struct{}{}
		}
	}
	for _, role := range selected {
		if _, ok := candidateKeys[strings.ToLower(role)]; ok {
			selectedVerifiers = append(selectedVerifiers, role)
		}
	}

	// Candidate order wins so Reviewer is preferred over QA when both exist.
	for _, cand := range verifierCandidates {
		ckey := strings.ToLower(cand)
		for _, role := range available {
			if strings.ToLower(role) == ckey && !containsRole(availableVerifiers, role) {
				availableVerifiers = append(availableVerifiers, role)
			}
		}
	}

	if len(selectedVerifiers) == 0 && len(availableVerifiers) > 0 {
		selected = append(selected, availableVerifiers[0])
		selectedVerifiers = []string{availableVerifiers[0]}
		added = true
	}

	return parse.DedupeRoles(selected), parse.DedupeRoles(selectedVerifiers), added, availableVerifiers
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// LoadRoles reads the roles registered in a team dir's orchestrator.json:
// the coordinator role plus every agent entry. Missing or malformed files
// yield an empty list.
func LoadRoles(teamDir string) []string {
	data, err := os.ReadFile(filepath.Join(teamDir, "orchestrator.json"))
	if err != nil {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	var roles []string
	if coordinator, ok := raw["coordinator"].(map[string]any); ok {
		if role := strings.TrimSpace(stringValue(coordinator["role"])); role != "" {
			roles = append(roles, role)
		}
	}
	if agents, ok := raw["agents"].([]any); ok {
		for _, item := range agents {
			var role string
			if row, ok := item.(map[string]any); ok {
				role = strings.TrimSpace(stringValue(row["role"]))
			} else {
				role = strings.TrimSpace(stringValue(item))
			}
			if role != "" {
				roles = append(roles, role)
			}
		}
	}
	return parse.DedupeRoles(roles)
}
