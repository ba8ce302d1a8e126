// Package runinfo collects CI metadata stamped into verification reports.
package runinfo

import (
	"os"
	"regexp"
	"strings"
)

const envPrefix = "SHADOWCHECK_CI"

var githubPullRefPattern = regexp.MustCompile(`^refs/pull/([0-9]+)/`)

// BasicInfo identifies the pipeline run that produced a report.
type BasicInfo struct {
	CI          bool   `json:"ci,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Repository  string `json:"repository,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Commit      string `json:"commit,omitempty"`
	Workflow    string `json:"workflow,omitempty"`
	Job         string `json:"job,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Actor       string `json:"actor,omitempty"`
	PullRequest string `json:"pull_request,omitempty"`
	BuildURL    string `json:"build_url,omitempty"`
}

// FromEnv builds run metadata from the environment. SHADOWCHECK_CI_* values
// win over provider variables. It returns nil outside CI when nothing is set.
func FromEnv() *BasicInfo {
	info := detectProvider()
	explicitCI, hasExplicitCI := applyOverrides(&info)
	info.Provider = strings.ToLower(strings.TrimSpace(info.Provider))
	info.Branch = normalizeBranch(info.Branch)
	if info.PullRequest == "" {
		info.PullRequest = pullRequestFromRef(env("GITHUB_REF"))
	}
	switch {
	case hasExplicitCI:
		info.CI = explicitCI
	case info.Provider != "" || info.Repository != "" || info.RunID != "" || info.Commit != "":
		info.CI = true
	}
	if info.CI && info.Provider == "" {
		info.Provider = "generic"
	}
	if info.IsZero() {
		return nil
	}
	return &info
}

// IsZero reports whether no field is set.
func (b BasicInfo) IsZero() bool {
	return b == BasicInfo{}
}

// Summary renders the fields that identify a run on one line.
func (b *BasicInfo) Summary() string {
	if b == nil {
		return "local"
	}
	parts := []string{b.Provider}
	for _, kv := range [][2]string{
		{"repo", b.Repository},
		{"branch", b.Branch},
		{"commit", b.Commit},
		{"run", b.RunID},
		{"pr", b.PullRequest},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	return strings.Join(parts, " ")
}

func detectProvider() BasicInfo {
	var info BasicInfo
	if isTruthy(env("GITHUB_ACTIONS")) {
		info.Provider = "github_actions"
		info.Repository = env("GITHUB_REPOSITORY")
		info.Branch = envFirst("GITHUB_HEAD_REF", "GITHUB_REF_NAME")
		info.Commit = env("GITHUB_SHA")
		info.Workflow = env("GITHUB_WORKFLOW")
		info.Job = env("GITHUB_JOB")
		info.RunID = env("GITHUB_RUN_ID")
		info.Actor = env("GITHUB_ACTOR")
		server := env("GITHUB_SERVER_URL")
		if server == "" {
			server = "https://github.com"
		}
		if info.Repository != "" && info.RunID != "" {
			info.BuildURL = strings.TrimRight(server, "/") + "/" + info.Repository + "/actions/runs/" + info.RunID
		}
	}
	switch {
	case info.Provider != "":
	case isTruthy(env("GITLAB_CI")):
		info.Provider = "gitlab_ci"
	case isTruthy(env("BUILDKITE")):
		info.Provider = "buildkite"
	case env("JENKINS_URL") != "":
		info.Provider = "jenkins"
	}
	info.CI = info.Provider != "" || isTruthy(env("CI"))

	setIfEmpty(&info.Repository, envFirst("CI_PROJECT_PATH", "BUILD_REPOSITORY_NAME"))
	setIfEmpty(&info.Branch, envFirst("CI_COMMIT_REF_NAME", "BRANCH_NAME", "GIT_BRANCH"))
	setIfEmpty(&info.Commit, envFirst("CI_COMMIT_SHA", "GIT_COMMIT"))
	setIfEmpty(&info.Job, envFirst("CI_JOB_NAME", "JOB_NAME"))
	setIfEmpty(&info.RunID, envFirst("CI_PIPELINE_ID", "BUILD_ID"))
	setIfEmpty(&info.Actor, envFirst("GITLAB_USER_LOGIN"))
	setIfEmpty(&info.PullRequest, envFirst("PR_NUMBER"))
	setIfEmpty(&info.BuildURL, envFirst("CI_JOB_URL", "BUILD_URL"))
	return info
}

// applyOverrides copies SHADOWCHECK_CI_* values into info and returns the
// explicit SHADOWCHECK_CI flag when one is set.
func applyOverrides(info *BasicInfo) (bool, bool) {
	fields := map[string]*string{
		"PROVIDER":     &info.Provider,
		"REPOSITORY":   &info.Repository,
		"BRANCH":       &info.Branch,
		"COMMIT":       &info.Commit,
		"WORKFLOW":     &info.Workflow,
		"JOB":          &info.Job,
		"RUN_ID":       &info.RunID,
		"ACTOR":        &info.Actor,
		"PULL_REQUEST": &info.PullRequest,
		"BUILD_URL":    &info.BuildURL,
	}
	for suffix, dst := range fields {
		if v := env(envPrefix + "_" + suffix); v != "" {
			*dst = v
		}
	}
	raw, ok := os.LookupEnv(envPrefix)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return false, false
	}
	return isTruthy(raw), true
}

func normalizeBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	branch = strings.TrimPrefix(branch, "refs/heads/")
	return strings.TrimPrefix(branch, "origin/")
}

func pullRequestFromRef(ref string) string {
	if m := githubPullRefPattern.FindStringSubmatch(strings.TrimSpace(ref)); len(m) > 1 {
		return m[1]
	}
	return ""
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envFirst(keys ...string) string {
	for _, key := range keys {
		if value := env(key); value != "" {
			return value
		}
	}
	return ""
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
