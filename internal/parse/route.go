package parse

import "strings"

var (
	dataRouteKeys = []string{
		"data", "dataset", "etl", "schema", "sql", "pipeline",
		"품질", "데이터", "스키마", "적재", "정합성", "검증",
	}
	reviewRouteKeys = []string{
		"review", "risk", "regression", "test", "qa", "bug",
		"리뷰", "리스크", "회귀", "테스트", "버그", "검토",
	}
	bothRouteKeys = []string{"both", "둘 다", "둘다", "각각", "cross-check", "교차"}
)

// ChooseAutoDispatchRoles picks dispatch roles from prompt keywords when
// auto-dispatch is on. Empty means no keyword matched and the caller
// decides the fallback.
func ChooseAutoDispatchRoles(prompt string) []string {
	low := strings.ToLower(prompt)
	var roles []string

	if containsAny(low, dataRouteKeys) {
		roles = append(roles, "DataEngineer")
	}
	if containsAny(low, reviewRouteKeys) {
		roles = append(roles, "Reviewer")
	}
	if len(roles) == 0 && containsAny(low, bothRouteKeys) {
		roles = []string{"DataEngineer", "Reviewer"}
	}
	return roles
}

func containsAny(text string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
