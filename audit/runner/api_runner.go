package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/jrsteele09/go-audit-server/audit"
	"golang.org/x/oauth2"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

const (
	maxAPIPages       = 50
	defaultSAIdentity = "-compute@developer.gserviceaccount.com"
	cloudPlatformAll  = "https://www.googleapis.com/auth/cloud-platform"
)

// errTooManyPages stops a listing that has not finished after maxAPIPages.
var errTooManyPages = errors.New("page limit reached")

// APIRunner audits categories that map directly onto Google Cloud REST APIs.
// Requests are authorized with the user's token source, which refreshes
// expired access tokens.
type APIRunner struct {
	storageBaseURL string
	computeBaseURL string
	transport      http.RoundTripper
}

var _ Runner = (*APIRunner)(nil)

type APIRunnerOption func(*APIRunner)

// WithTransport sets the base transport under the oauth2 transport (primarily for testing)
func WithTransport(rt http.RoundTripper) APIRunnerOption {
	return func(a *APIRunner) {
		a.transport = rt
	}
}

// NewAPIRunner takes the API hosts, e.g. https://storage.googleapis.com.
// An empty host uses the client library default.
func NewAPIRunner(storageBaseURL, computeBaseURL string, options ...APIRunnerOption) *APIRunner {
	a := &APIRunner{
		storageBaseURL: strings.TrimSuffix(storageBaseURL, "/"),
		computeBaseURL: strings.TrimSuffix(computeBaseURL, "/"),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *APIRunner) Run(ctx context.Context, req Request) (*audit.Result, error) {
	if req.TokenSource == nil {
		return nil, apiFailure("no cloud credentials available for this session", nil)
	}
	if _, err := req.TokenSource.Token(); err != nil {
		return nil, apiFailure("could not obtain cloud credentials", err)
	}

	clientCtx := ctx
	if a.transport != nil {
		clientCtx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: a.transport})
	}
	client := oauth2.NewClient(clientCtx, req.TokenSource)

	switch req.Category {
	case audit.CategoryStorage:
		return a.auditStorage(ctx, client, req)
	case audit.CategoryCompute:
		return a.auditCompute(ctx, client, req)
	case audit.CategoryNetwork, audit.CategoryIAM, audit.CategoryAll:
	}
	return nil, &Failure{Type: audit.ErrorTypeInternal, Message: fmt.Sprintf("no API audit for category %q", req.Category)}
}

func clientOptions(client *http.Client, baseURL, basePath string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if baseURL != "" {
		opts = append(opts, option.WithEndpoint(baseURL+basePath))
	}
	return opts
}

func (a *APIRunner) auditStorage(ctx context.Context, client *http.Client, req Request) (*audit.Result, error) {
	const api = "Cloud Storage"
	svc, err := storage.NewService(ctx, clientOptions(client, a.storageBaseURL, "/storage/v1/")...)
	if err != nil {
		return nil, &Failure{Type: audit.ErrorTypeInternal, Message: "failed to create Cloud Storage client", Err: err}
	}

	req.report(10, "Listing storage buckets")
	var raw []json.RawMessage
	findings := []audit.Finding{}
	buckets, page := 0, 0
	err = svc.Buckets.List(req.ProjectID).Pages(ctx, func(list *storage.Buckets) error {
		page++
		body, err := json.Marshal(list)
		if err != nil {
			return err
		}
		raw = append(raw, body)

		for _, b := range list.Items {
			buckets++
			findings = append(findings, bucketFindings(b)...)
		}

		req.report(min(10+page*20, 90), fmt.Sprintf("Checked %d buckets", buckets))
		if list.NextPageToken != "" && page >= maxAPIPages {
			return errTooManyPages
		}
		return nil
	})
	if err != nil {
		return nil, listFailure(ctx, api, err)
	}

	return a.result(req, fmt.Sprintf("%d buckets checked, %d findings", buckets, len(findings)), findings, raw)
}

func bucketFindings(b *storage.Bucket) []audit.Finding {
	var findings []audit.Finding
	iam := b.IamConfiguration
	if iam == nil {
		iam = &storage.BucketIamConfiguration{}
	}
	if iam.PublicAccessPrevention != "enforced" {
		findings = append(findings, audit.Finding{
			Resource: b.Name,
			Severity: audit.SeverityMedium,
			Title:    "Public access prevention is not enforced",
		})
	}
	if iam.UniformBucketLevelAccess == nil || !iam.UniformBucketLevelAccess.Enabled {
		findings = append(findings, audit.Finding{
			Resource: b.Name,
			Severity: audit.SeverityLow,
			Title:    "Uniform bucket-level access is disabled",
		})
	}
	if b.Versioning == nil || !b.Versioning.Enabled {
		findings = append(findings, audit.Finding{
			Resource: b.Name,
			Severity: audit.SeverityLow,
			Title:    "Object versioning is disabled",
		})
	}
	return findings
}

func (a *APIRunner) auditCompute(ctx context.Context, client *http.Client, req Request) (*audit.Result, error) {
	const api = "Compute Engine"
	svc, err := compute.NewService(ctx, clientOptions(client, a.computeBaseURL, "/compute/v1/")...)
	if err != nil {
		return nil, &Failure{Type: audit.ErrorTypeInternal, Message: "failed to create Compute Engine client", Err: err}
	}

	req.report(10, "Listing compute instances")
	var raw []json.RawMessage
	findings := []audit.Finding{}
	instances, page := 0, 0
	err = svc.Instances.AggregatedList(req.ProjectID).Pages(ctx, func(list *compute.InstanceAggregatedList) error {
		page++
		body, err := json.Marshal(list)
		if err != nil {
			return err
		}
		raw = append(raw, body)

		for zone, scoped := range list.Items {
			for _, inst := range scoped.Instances {
				instances++
				findings = append(findings, instanceFindings(zone+"/"+inst.Name, inst)...)
			}
		}

		req.report(min(10+page*20, 90), fmt.Sprintf("Checked %d instances", instances))
		if list.NextPageToken != "" && page >= maxAPIPages {
			return errTooManyPages
		}
		return nil
	})
	if err != nil {
		return nil, listFailure(ctx, api, err)
	}

	return a.result(req, fmt.Sprintf("%d instances checked, %d findings", instances, len(findings)), findings, raw)
}

func instanceFindings(resource string, inst *compute.Instance) []audit.Finding {
	var findings []audit.Finding
	for _, nic := range inst.NetworkInterfaces {
		for _, ac := range nic.AccessConfigs {
			if ac.NatIP != "" {
				findings = append(findings, audit.Finding{
					Resource: resource,
					Severity: audit.SeverityMedium,
					Title:    "Instance has an external IP address",
					Detail:   ac.NatIP,
				})
			}
		}
	}
	for _, sa := range inst.ServiceAccounts {
		if strings.HasSuffix(sa.Email, defaultSAIdentity) && slices.Contains(sa.Scopes, cloudPlatformAll) {
			findings = append(findings, audit.Finding{
				Resource: resource,
				Severity: audit.SeverityHigh,
				Title:    "Default service account with full cloud-platform scope",
				Detail:   sa.Email,
			})
		}
	}
	return findings
}

// listFailure maps a listing error to a display-safe failure. Provider error
// bodies are kept in Err only.
func listFailure(ctx context.Context, api string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("[APIRunner] %s: %w", api, ctxErr)
	}
	if errors.Is(err, errTooManyPages) {
		return apiFailure(fmt.Sprintf("%s API returned more than %d pages of resources", api, maxAPIPages), err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return apiFailure(fmt.Sprintf("%s API returned %d %s", api, gerr.Code, http.StatusText(gerr.Code)), err)
	}
	return apiFailure(fmt.Sprintf("%s API request failed", api), err)
}

func (a *APIRunner) result(req Request, summary string, findings []audit.Finding, raw []json.RawMessage) (*audit.Result, error) {
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, &Failure{Type: audit.ErrorTypeInternal, Message: "failed to encode provider data", Err: err}
	}
	req.report(100, fmt.Sprintf("Finished %s audit", req.Category))
	return &audit.Result{
		ProjectID: req.ProjectID,
		Category:  req.Category,
		Summary:   summary,
		Findings:  findings,
		Raw:       rawJSON,
	}, nil
}
