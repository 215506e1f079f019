// Package githubapi holds the request-header contract shared by every
// GitHub REST API call site (releases, commits, contents): the fixed
// Accept/API-version/User-Agent triplet plus the classic-PAT Authorization
// scheme, so the contract lives in exactly one place instead of being
// copy-pasted per caller.
package githubapi

import "net/http"

// APIVersion is the GitHub REST API version pinned for every request.
const APIVersion = "2022-11-28"

// UserAgent is set once at startup from the build-stamped binary version.
// Defaults to a generic value so packages that never call SetUserAgent
// (tests, mainly) still send something well-formed.
var UserAgent = "fetchtastic/dev"

// SetUserAgent stamps UserAgent from the running binary's version string.
func SetUserAgent(version string) {
	UserAgent = "fetchtastic/" + version
}

// SetHeaders applies the Accept, X-GitHub-Api-Version, and User-Agent
// headers every GitHub API request needs, plus Authorization using GitHub's
// classic token scheme ("token <t>", not OAuth "Bearer") when token is set.
func SetHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", APIVersion)
	req.Header.Set("User-Agent", UserAgent)
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
}
