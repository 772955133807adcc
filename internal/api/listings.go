package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// ListWorkspaces returns every workspace the credentials can see.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var resp workspacesResponse
	if err := c.getJSON(ctx, "/workspaces?tenantDetails=true", &resp); err != nil {
		return nil, err
	}

	out := make([]Workspace, 0, len(resp.Workspaces))
	for _, w := range resp.Workspaces {
		out = append(out, Workspace{
			ID:            w.ID,
			Name:          w.Name,
			Active:        w.Active,
			SizeAllowance: w.SizeAllowance,
			CurrentSize:   w.CurrentSize,
		})
	}

	return out, nil
}

// ListModels returns every model the credentials can see, across workspaces.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var resp modelsResponse
	if err := c.getJSON(ctx, "/models?modelDetails=true", &resp); err != nil {
		return nil, err
	}

	out := make([]Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, Model{
			ID:                     m.ID,
			Name:                   m.Name,
			ActiveState:            m.ActiveState,
			LastSavedSerialNumber:  m.LastSavedSerialNumber,
			LastModifiedByUserGUID: m.LastModifiedByUserGUID,
			MemoryUsage:            m.MemoryUsage,
			CurrentWorkspaceID:     m.CurrentWorkspaceID,
			CurrentWorkspaceName:   m.CurrentWorkspaceName,
			URL:                    m.ModelURL,
			CategoryValues:         m.CategoryValues,
			ISOCreationDate:        m.ISOCreationDate,
			LastModified:           m.LastModified,
		})
	}

	return out, nil
}

// ListActions returns the model's "Other Actions".
func (c *Client) ListActions(ctx context.Context) ([]Action, error) {
	var resp actionsResponse
	if err := c.getJSON(ctx, c.modelPath("actions"), &resp); err != nil {
		return nil, err
	}

	out := make([]Action, 0, len(resp.Actions))
	for _, a := range resp.Actions {
		out = append(out, Action{ID: ActionID(a.ID), Name: a.Name, Type: a.ActionType})
	}

	return out, nil
}

// ListImports returns the model's imports.
func (c *Client) ListImports(ctx context.Context) ([]Import, error) {
	var resp importsResponse
	if err := c.getJSON(ctx, c.modelPath("imports"), &resp); err != nil {
		return nil, err
	}

	out := make([]Import, 0, len(resp.Imports))
	for _, i := range resp.Imports {
		imp := Import{ID: ActionID(i.ID), Name: i.Name, Type: i.ImportType}
		if i.ImportDataSourceID != 0 {
			src := int64(i.ImportDataSourceID)
			imp.SourceID = &src
		}

		out = append(out, imp)
	}

	return out, nil
}

// ListExports returns the model's exports.
func (c *Client) ListExports(ctx context.Context) ([]Export, error) {
	var resp exportsResponse
	if err := c.getJSON(ctx, c.modelPath("exports"), &resp); err != nil {
		return nil, err
	}

	out := make([]Export, 0, len(resp.Exports))
	for _, e := range resp.Exports {
		out = append(out, Export{
			ID:       ActionID(e.ID),
			Name:     e.Name,
			Type:     e.ExportType,
			Format:   e.ExportFormat,
			Encoding: e.Encoding,
			Layout:   e.Layout,
		})
	}

	return out, nil
}

// ListProcesses returns the model's processes.
func (c *Client) ListProcesses(ctx context.Context) ([]Process, error) {
	var resp processesResponse
	if err := c.getJSON(ctx, c.modelPath("processes"), &resp); err != nil {
		return nil, err
	}

	out := make([]Process, 0, len(resp.Processes))
	for _, p := range resp.Processes {
		out = append(out, Process{ID: ActionID(p.ID), Name: p.Name})
	}

	return out, nil
}

// ListFiles returns the model's import data sources and export targets.
func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	var resp filesResponse
	if err := c.getJSON(ctx, c.modelPath("files"), &resp); err != nil {
		return nil, err
	}

	out := make([]File, 0, len(resp.Files))
	for _, f := range resp.Files {
		out = append(out, File{
			ID:           int64(f.ID),
			Name:         f.Name,
			ChunkCount:   f.ChunkCount,
			Delimiter:    f.Delimiter,
			Encoding:     f.Encoding,
			FirstDataRow: f.FirstDataRow,
			Format:       f.Format,
			HeaderRow:    f.HeaderRow,
			Separator:    f.Separator,
		})
	}

	return out, nil
}

// ListLists returns the model's lists.
func (c *Client) ListLists(ctx context.Context) ([]List, error) {
	var resp listsResponse
	if err := c.getJSON(ctx, c.modelPath("lists"), &resp); err != nil {
		return nil, err
	}

	out := make([]List, 0, len(resp.Lists))
	for _, l := range resp.Lists {
		out = append(out, List{ID: int64(l.ID), Name: l.Name})
	}

	return out, nil
}

// VerifyModel checks that the workspace and model exist and are reachable
// with the client's credentials. A missing workspace or model is
// ErrUnknownIdentifier.
func (c *Client) VerifyModel(ctx context.Context) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: c.modelPath("currentPeriod"), Accept: contentTypeJSON})
	if err != nil {
		return fmt.Errorf("api: verifying workspace %s model %s: %w", c.workspaceID, c.modelID, err)
	}

	drain(resp)

	c.logger.Info("model verified",
		slog.String("workspace_id", c.workspaceID),
		slog.String("model_id", c.modelID),
	)

	return nil
}
