// Package github lists and downloads PDF documents from a GitHub repository directory.
package github

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/go-github/v81/github"
)

// FetchedDoc is a PDF downloaded from GitHub.
type FetchedDoc struct {
	Path    string // Relative path within the base directory
	Content []byte
	SHA     string // File's Git blob SHA
	URL     string // GitHub raw URL
}

// Fetcher lists and downloads PDFs below a repository directory.
type Fetcher struct {
	client   *Client
	owner    string
	repo     string
	ref      string
	basePath string
}

// NewFetcher creates a fetcher for owner/repo at basePath. An empty ref means the default
// branch.
func NewFetcher(client *Client, owner, repo, ref, basePath string) *Fetcher {
	return &Fetcher{
		client:   client,
		owner:    owner,
		repo:     repo,
		ref:      ref,
		basePath: strings.Trim(basePath, "/"),
	}
}

// Source returns "owner/repo/basePath", identifying where documents come from.
func (f *Fetcher) Source() string {
	return path.Join(f.owner, f.repo, f.basePath)
}

func (f *Fetcher) options() *github.RepositoryContentGetOptions {
	if f.ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.ref}
}

// List recursively lists the PDF files below the base directory.
func (f *Fetcher) List(ctx context.Context) ([]string, error) {
	return f.listRecursive(ctx, f.basePath, "")
}

func (f *Fetcher) listRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, f.options())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}

		itemRelPath := path.Join(relativePath, *item.Name)

		switch *item.Type {
		case "file":
			if strings.HasSuffix(strings.ToLower(*item.Name), ".pdf") {
				docs = append(docs, itemRelPath)
			}

		case "dir":
			subDocs, err := f.listRecursive(ctx, path.Join(fullPath, *item.Name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}

	return docs, nil
}

// Fetch downloads one PDF. Files over the contents API size limit are fetched through
// their download URL.
func (f *Fetcher) Fetch(ctx context.Context, relativePath string) (*FetchedDoc, error) {
	fullPath := path.Join(f.basePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, f.options())
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("no file content returned for %s", fullPath)
	}

	var content []byte
	if fileContent.GetEncoding() == "base64" {
		var decoded string
		decoded, err = fileContent.GetContent()
		content = []byte(decoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
		}
	} else {
		rc, _, err := f.client.Repositories.DownloadContents(ctx, f.owner, f.repo, fullPath, f.options())
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", fullPath, err)
		}
		defer rc.Close()
		if content, err = io.ReadAll(rc); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fullPath, err)
		}
	}

	ref := f.ref
	if ref == "" {
		ref = "HEAD"
	}
	rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", f.owner, f.repo, ref, fullPath)

	return &FetchedDoc{
		Path:    relativePath,
		Content: content,
		SHA:     fileContent.GetSHA(),
		URL:     rawURL,
	}, nil
}

// LatestCommitSHA returns the SHA of the most recent commit touching the base directory.
func (f *Fetcher) LatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.owner, f.repo,
		&github.CommitsListOptions{
			SHA:         f.ref,
			Path:        f.basePath,
			ListOptions: github.ListOptions{PerPage: 1},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}

	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.basePath)
	}

	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}

	return *commits[0].SHA, nil
}
