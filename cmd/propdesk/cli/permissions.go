package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/propdesk/propdesk/internal/dashboard"
	"github.com/propdesk/propdesk/internal/permcache"
	"github.com/propdesk/propdesk/internal/rbac"
)

// SubjectLookup loads a user as an rbac subject.
type SubjectLookup func(ctx context.Context, id int64) (*rbac.Subject, error)

// PermissionsCLI offers operator helpers for per-user page overrides.
type PermissionsCLI struct {
	service  *rbac.Service
	resolver *rbac.Resolver
	lookup   SubjectLookup
}

// NewPermissionsCLI wires the helper.
func NewPermissionsCLI(service *rbac.Service, resolver *rbac.Resolver, lookup SubjectLookup) (*PermissionsCLI, error) {
	if service == nil || resolver == nil || lookup == nil {
		return nil, errors.New("permissions cli: service, resolver and lookup are required")
	}
	return &PermissionsCLI{service: service, resolver: resolver, lookup: lookup}, nil
}

// PermissionsFile is the YAML layout accepted by import. Each listed subject
// has its override set replaced wholesale.
type PermissionsFile struct {
	Subjects []SubjectOverrides `yaml:"subjects"`
}

// SubjectOverrides is one subject's complete override list.
type SubjectOverrides struct {
	SubjectID int64                `yaml:"subject_id"`
	Overrides []rbac.OverrideInput `yaml:"overrides"`
}

// ImportOptions defines flags for the permissions import command.
type ImportOptions struct {
	File    string
	ActorID int64
	Stdout  io.Writer
	Stderr  io.Writer
}

// ImportCommand replaces overrides for every subject in the file, acting as
// ActorID. It stops at the first failing subject.
func (c *PermissionsCLI) ImportCommand(ctx context.Context, opts ImportOptions) int {
	opts.Stdout, opts.Stderr = outputs(opts.Stdout, opts.Stderr)
	if opts.File == "" || opts.ActorID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "permissions import: --file and --actor are required")
		return 1
	}
	raw, err := os.ReadFile(opts.File)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "permissions import: %v\n", err)
		return 1
	}
	var doc PermissionsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "permissions import: parse %s: %v\n", opts.File, err)
		return 1
	}
	if len(doc.Subjects) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "permissions import: no subjects in file")
		return 1
	}

	actor, err := c.lookup(ctx, opts.ActorID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "permissions import: load actor %d: %v\n", opts.ActorID, err)
		return 1
	}
	for _, entry := range doc.Subjects {
		if err := c.service.SetPermissions(ctx, actor, entry.SubjectID, entry.Overrides); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "permissions import: subject %d: %v\n", entry.SubjectID, err)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stdout, "subject %d: %d overrides\n", entry.SubjectID, len(entry.Overrides))
	}
	return 0
}

// ShowOptions defines flags for the permissions show command.
type ShowOptions struct {
	SubjectID  int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// PageAccess is the effective access to one dashboard page.
type PageAccess struct {
	Page    string `json:"page"`
	CanView bool   `json:"can_view"`
	CanEdit bool   `json:"can_edit"`
}

// ShowCommand prints the effective access of a subject to every dashboard
// page, resolved through the same cache the agents use.
func (c *PermissionsCLI) ShowCommand(ctx context.Context, opts ShowOptions) int {
	opts.Stdout, opts.Stderr = outputs(opts.Stdout, opts.Stderr)
	if opts.SubjectID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "permissions show: --subject is required and must be positive")
		return 1
	}
	subject, err := c.lookup(ctx, opts.SubjectID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "permissions show: load subject %d: %v\n", opts.SubjectID, err)
		return 1
	}
	cache := permcache.New(permcache.SubjectResolver{
		Resolver: c.resolver,
		Subject:  func(context.Context) (*rbac.Subject, error) { return subject, nil },
	}, permcache.Options{})

	var rows []PageAccess
	for _, page := range dashboard.Pages() {
		rows = append(rows, PageAccess{
			Page:    page.Path,
			CanView: cache.Check(ctx, page.Path, rbac.ActionView),
			CanEdit: cache.Check(ctx, page.Path, rbac.ActionEdit),
		})
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(rows); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "permissions show: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "subject %d (%s)\n", subject.ID, subject.Role)
	_, _ = fmt.Fprintln(tw, "PAGE\tVIEW\tEDIT")
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Page, yesNo(row.CanView), yesNo(row.CanEdit))
	}
	_ = tw.Flush()
	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func outputs(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
