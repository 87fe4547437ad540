package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mcpstudio/internal/api"
	"mcpstudio/pkg/logging"
)

// timeLayout is fixed width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dialect struct {
	name      string
	schema    string
	forUpdate string
	numbered  bool
}

func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlRegistry implements Registry on database/sql. The sqlite and postgres
// backends differ only in their dialect.
type sqlRegistry struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func newSQLRegistry(ctx context.Context, db *sql.DB, d dialect) (*sqlRegistry, error) {
	r := &sqlRegistry{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return r, nil
}

func (r *sqlRegistry) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, r.dialect.bind(query), args...)
}

func (r *sqlRegistry) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, r.dialect.bind(query), args...)
}

func (r *sqlRegistry) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, r.dialect.bind(query), args...)
}

func (r *sqlRegistry) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warn("Registry", "Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fromJSON(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// Servers

const serverColumns = "id, name, description, config, state, deployment_url, last_error, created_at, updated_at"

func scanServer(row rowScanner) (*api.Server, error) {
	var (
		s                    api.Server
		config, state        string
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &config, &state, &s.DeploymentURL, &s.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(config, &s.Config); err != nil {
		return nil, fmt.Errorf("decoding config of server %s: %w", s.ID, err)
	}
	s.State = api.DeploymentState(state)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

func (r *sqlRegistry) CreateServer(ctx context.Context, server *api.Server) error {
	if err := prepareServer(server, r.now()); err != nil {
		return err
	}
	caps := api.Capabilities{Tools: server.Tools, Resources: server.Resources, Prompts: server.Prompts}
	if err := prepareCapabilities(server.ID, &caps, server.CreatedAt); err != nil {
		return err
	}
	config, err := toJSON(server.Config)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := r.queryRow(ctx, tx, "SELECT COUNT(*) FROM servers WHERE name = ?", server.Name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking server name: %w", err)
		}
		if exists > 0 {
			return nameConflict("server", server.Name)
		}
		_, err = r.exec(ctx, tx, "INSERT INTO servers ("+serverColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			server.ID, server.Name, server.Description, config, string(server.State), server.DeploymentURL,
			server.LastError, formatTime(server.CreatedAt), formatTime(server.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting server: %w", err)
		}
		return r.insertCapabilities(ctx, tx, caps)
	})
}

func (r *sqlRegistry) GetServer(ctx context.Context, id string) (*api.Server, error) {
	s, err := scanServer(r.queryRow(ctx, r.db, "SELECT "+serverColumns+" FROM servers WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.NewNotFoundError("server", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading server %s: %w", id, err)
	}
	return r.withCapabilities(ctx, s)
}

func (r *sqlRegistry) GetServerByName(ctx context.Context, name string) (*api.Server, error) {
	s, err := scanServer(r.queryRow(ctx, r.db, "SELECT "+serverColumns+" FROM servers WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.NewNotFoundError("server", name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading server %s: %w", name, err)
	}
	return r.withCapabilities(ctx, s)
}

func (r *sqlRegistry) withCapabilities(ctx context.Context, s *api.Server) (*api.Server, error) {
	var err error
	if s.Tools, err = r.ListTools(ctx, s.ID); err != nil {
		return nil, err
	}
	if s.Resources, err = r.ListResources(ctx, s.ID); err != nil {
		return nil, err
	}
	if s.Prompts, err = r.ListPrompts(ctx, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sqlRegistry) ListServers(ctx context.Context) ([]*api.Server, error) {
	rows, err := r.query(ctx, r.db, "SELECT "+serverColumns+" FROM servers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	var out []*api.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sqlRegistry) UpdateServer(ctx context.Context, id string, update ServerUpdate) (*api.Server, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanServer(r.queryRow(ctx, tx, "SELECT "+serverColumns+" FROM servers WHERE id = ?"+r.dialect.forUpdate, id))
		if errors.Is(err, sql.ErrNoRows) {
			return api.NewNotFoundError("server", id)
		}
		if err != nil {
			return err
		}
		if update.Name != nil && *update.Name != current.Name {
			var exists int
			if err := r.queryRow(ctx, tx, "SELECT COUNT(*) FROM servers WHERE name = ?", *update.Name).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				return nameConflict("server", *update.Name)
			}
			current.Name = *update.Name
		}
		if update.Description != nil {
			current.Description = *update.Description
		}
		if update.Config != nil {
			current.Config = *update.Config
		}
		config, err := toJSON(current.Config)
		if err != nil {
			return err
		}
		_, err = r.exec(ctx, tx, "UPDATE servers SET name = ?, description = ?, config = ?, updated_at = ? WHERE id = ?",
			current.Name, current.Description, config, formatTime(r.now()), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetServer(ctx, id)
}

func (r *sqlRegistry) DeleteServer(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := r.exec(ctx, tx, "DELETE FROM servers WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting server: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return api.NewNotFoundError("server", id)
		}
		return r.deleteCapabilities(ctx, tx, id)
	})
}

func (r *sqlRegistry) Transition(ctx context.Context, id string, t Transition) (*api.Server, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	var caps api.Capabilities
	if t.Capabilities != nil {
		caps = cloneCapabilities(*t.Capabilities)
		if err := prepareCapabilities(id, &caps, t.At); err != nil {
			return nil, err
		}
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := r.queryRow(ctx, tx, "SELECT state FROM servers WHERE id = ?"+r.dialect.forUpdate, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return api.NewNotFoundError("server", id)
		}
		if err != nil {
			return fmt.Errorf("reading state: %w", err)
		}
		if !t.allows(api.DeploymentState(current)) {
			return stateConflict(id, api.DeploymentState(current), t)
		}
		if t.Capabilities != nil {
			if err := r.deleteCapabilities(ctx, tx, id); err != nil {
				return err
			}
			if err := r.insertCapabilities(ctx, tx, caps); err != nil {
				return err
			}
		}
		_, err = r.exec(ctx, tx, "UPDATE servers SET state = ?, deployment_url = ?, last_error = ?, updated_at = ? WHERE id = ?",
			string(t.To), t.DeploymentURL, t.Reason, formatTime(t.At), id)
		if err != nil {
			return fmt.Errorf("updating state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetServer(ctx, id)
}

// Capabilities

func (r *sqlRegistry) deleteCapabilities(ctx context.Context, tx *sql.Tx, serverID string) error {
	for _, table := range []string{"tools", "resources", "prompts"} {
		if _, err := r.exec(ctx, tx, "DELETE FROM "+table+" WHERE server_id = ?", serverID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}

func (r *sqlRegistry) insertCapabilities(ctx context.Context, tx *sql.Tx, caps api.Capabilities) error {
	for i := range caps.Tools {
		if err := r.upsertTool(ctx, tx, &caps.Tools[i]); err != nil {
			return err
		}
	}
	for i := range caps.Resources {
		if err := r.upsertResource(ctx, tx, &caps.Resources[i]); err != nil {
			return err
		}
	}
	for i := range caps.Prompts {
		if err := r.upsertPrompt(ctx, tx, &caps.Prompts[i]); err != nil {
			return err
		}
	}
	return nil
}

const toolColumns = "id, server_id, name, description, parameters, returns, additional_params, integration, source, created_at, updated_at"

func scanTool(row rowScanner) (*api.Tool, error) {
	var (
		t                       api.Tool
		params, returns, source string
		createdAt, updatedAt    string
	)
	if err := row.Scan(&t.ID, &t.ServerID, &t.Name, &t.Description, &params, &returns, &t.AdditionalParams, &t.Integration, &source, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(params, &t.Parameters); err != nil {
		return nil, fmt.Errorf("decoding parameters of tool %s: %w", t.ID, err)
	}
	if err := fromJSON(returns, &t.Returns); err != nil {
		return nil, fmt.Errorf("decoding return type of tool %s: %w", t.ID, err)
	}
	t.Source = api.ToolSource(source)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (r *sqlRegistry) upsertTool(ctx context.Context, q execer, t *api.Tool) error {
	params, err := toJSON(t.Parameters)
	if err != nil {
		return err
	}
	returns, err := toJSON(t.Returns)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, "INSERT INTO tools ("+toolColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) "+
		"ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description, "+
		"parameters = excluded.parameters, returns = excluded.returns, additional_params = excluded.additional_params, "+
		"integration = excluded.integration, "+
		"source = excluded.source, updated_at = excluded.updated_at",
		t.ID, t.ServerID, t.Name, t.Description, params, returns, t.AdditionalParams, t.Integration, string(t.Source),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving tool %s: %w", t.Name, err)
	}
	return nil
}

func (r *sqlRegistry) ListTools(ctx context.Context, serverID string) ([]api.Tool, error) {
	rows, err := r.query(ctx, r.db, "SELECT "+toolColumns+" FROM tools WHERE server_id = ? ORDER BY name", serverID)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer rows.Close()
	var out []api.Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *sqlRegistry) GetTool(ctx context.Context, serverID, ref string) (*api.Tool, error) {
	for _, column := range []string{"id", "name"} {
		t, err := scanTool(r.queryRow(ctx, r.db, "SELECT "+toolColumns+" FROM tools WHERE server_id = ? AND "+column+" = ?", serverID, ref))
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reading tool %s: %w", ref, err)
		}
	}
	if err := r.serverExists(ctx, r.db, serverID); err != nil {
		return nil, err
	}
	return nil, api.NewNotFoundError("tool", ref)
}

func (r *sqlRegistry) serverExists(ctx context.Context, q execer, id string) error {
	var n int
	if err := r.queryRow(ctx, q, "SELECT COUNT(*) FROM servers WHERE id = ?", id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return api.NewNotFoundError("server", id)
	}
	return nil
}

func (r *sqlRegistry) SaveTool(ctx context.Context, tool *api.Tool) error {
	if err := prepareTool(tool.ServerID, tool, r.now()); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.serverExists(ctx, tx, tool.ServerID); err != nil {
			return err
		}
		var clash int
		err := r.queryRow(ctx, tx, "SELECT COUNT(*) FROM tools WHERE server_id = ? AND name = ? AND id <> ?",
			tool.ServerID, tool.Name, tool.ID).Scan(&clash)
		if err != nil {
			return err
		}
		if clash > 0 {
			return nameConflict("tool", tool.Name)
		}
		var created string
		err = r.queryRow(ctx, tx, "SELECT created_at FROM tools WHERE id = ?", tool.ID).Scan(&created)
		if err == nil {
			tool.CreatedAt = parseTime(created)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return r.upsertTool(ctx, tx, tool)
	})
}

func (r *sqlRegistry) DeleteTool(ctx context.Context, serverID, toolID string) error {
	res, err := r.exec(ctx, r.db, "DELETE FROM tools WHERE server_id = ? AND id = ?", serverID, toolID)
	if err != nil {
		return fmt.Errorf("deleting tool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return api.NewNotFoundError("tool", toolID)
	}
	return nil
}

const resourceColumns = "id, server_id, name, uri, type, description, config"

func (r *sqlRegistry) upsertResource(ctx context.Context, q execer, res *api.Resource) error {
	config, err := toJSON(res.Config)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, "INSERT INTO resources ("+resourceColumns+") VALUES (?, ?, ?, ?, ?, ?, ?) "+
		"ON CONFLICT (id) DO UPDATE SET name = excluded.name, uri = excluded.uri, type = excluded.type, "+
		"description = excluded.description, config = excluded.config",
		res.ID, res.ServerID, res.Name, res.URI, res.Type, res.Description, config)
	if err != nil {
		return fmt.Errorf("saving resource %s: %w", res.Name, err)
	}
	return nil
}

func (r *sqlRegistry) ListResources(ctx context.Context, serverID string) ([]api.Resource, error) {
	rows, err := r.query(ctx, r.db, "SELECT "+resourceColumns+" FROM resources WHERE server_id = ? ORDER BY name", serverID)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()
	var out []api.Resource
	for rows.Next() {
		var (
			res    api.Resource
			config string
		)
		if err := rows.Scan(&res.ID, &res.ServerID, &res.Name, &res.URI, &res.Type, &res.Description, &config); err != nil {
			return nil, err
		}
		if err := fromJSON(config, &res.Config); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *sqlRegistry) SaveResource(ctx context.Context, resource *api.Resource) error {
	prepareResource(resource.ServerID, resource)
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.serverExists(ctx, tx, resource.ServerID); err != nil {
			return err
		}
		return r.upsertResource(ctx, tx, resource)
	})
}

const promptColumns = "id, server_id, name, description, template, variables"

func scanPrompt(row rowScanner) (*api.PromptTemplate, error) {
	var (
		p         api.PromptTemplate
		variables string
	)
	if err := row.Scan(&p.ID, &p.ServerID, &p.Name, &p.Description, &p.Template, &variables); err != nil {
		return nil, err
	}
	if err := fromJSON(variables, &p.Variables); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *sqlRegistry) upsertPrompt(ctx context.Context, q execer, p *api.PromptTemplate) error {
	variables, err := toJSON(p.Variables)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, "INSERT INTO prompts ("+promptColumns+") VALUES (?, ?, ?, ?, ?, ?) "+
		"ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description, "+
		"template = excluded.template, variables = excluded.variables",
		p.ID, p.ServerID, p.Name, p.Description, p.Template, variables)
	if err != nil {
		return fmt.Errorf("saving prompt %s: %w", p.Name, err)
	}
	return nil
}

func (r *sqlRegistry) ListPrompts(ctx context.Context, serverID string) ([]api.PromptTemplate, error) {
	rows, err := r.query(ctx, r.db, "SELECT "+promptColumns+" FROM prompts WHERE server_id = ? ORDER BY name", serverID)
	if err != nil {
		return nil, fmt.Errorf("listing prompts: %w", err)
	}
	defer rows.Close()
	var out []api.PromptTemplate
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *sqlRegistry) GetPrompt(ctx context.Context, serverID, ref string) (*api.PromptTemplate, error) {
	for _, column := range []string{"id", "name"} {
		p, err := scanPrompt(r.queryRow(ctx, r.db, "SELECT "+promptColumns+" FROM prompts WHERE server_id = ? AND "+column+" = ?", serverID, ref))
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reading prompt %s: %w", ref, err)
		}
	}
	if err := r.serverExists(ctx, r.db, serverID); err != nil {
		return nil, err
	}
	return nil, api.NewNotFoundError("prompt", ref)
}

func (r *sqlRegistry) SavePrompt(ctx context.Context, prompt *api.PromptTemplate) error {
	preparePrompt(prompt.ServerID, prompt)
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.serverExists(ctx, tx, prompt.ServerID); err != nil {
			return err
		}
		return r.upsertPrompt(ctx, tx, prompt)
	})
}

// Executions

const executionColumns = "id, server_id, tool_id, tool_name, input, result, error, actor, status, started_at, ended_at"

func scanExecution(row rowScanner) (*api.ExecutionRecord, error) {
	var (
		rec                    api.ExecutionRecord
		input, result, errDesc string
		status, started, ended string
	)
	if err := row.Scan(&rec.ID, &rec.ServerID, &rec.ToolID, &rec.ToolName, &input, &result, &errDesc, &rec.Actor, &status, &started, &ended); err != nil {
		return nil, err
	}
	if err := fromJSON(input, &rec.Input); err != nil {
		return nil, err
	}
	if err := fromJSON(result, &rec.Result); err != nil {
		return nil, err
	}
	if err := fromJSON(errDesc, &rec.Error); err != nil {
		return nil, err
	}
	rec.StartedAt = parseTime(started)
	rec.EndedAt = parseTime(ended)
	return &rec, nil
}

func (r *sqlRegistry) AppendExecution(ctx context.Context, record *api.ExecutionRecord) error {
	input, err := toJSON(record.Input)
	if err != nil {
		return err
	}
	result, err := toJSON(record.Result)
	if err != nil {
		return err
	}
	errDesc, err := toJSON(record.Error)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, r.db, "INSERT INTO executions ("+executionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		record.ID, record.ServerID, record.ToolID, record.ToolName, input, result, errDesc, record.Actor,
		string(record.Status()), formatTime(record.StartedAt), formatTime(record.EndedAt))
	if err != nil {
		return fmt.Errorf("appending execution %s: %w", record.ID, err)
	}
	return nil
}

func (r *sqlRegistry) GetExecution(ctx context.Context, id string) (*api.ExecutionRecord, error) {
	rec, err := scanExecution(r.queryRow(ctx, r.db, "SELECT "+executionColumns+" FROM executions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.NewNotFoundError("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading execution %s: %w", id, err)
	}
	return rec, nil
}

func (r *sqlRegistry) ListExecutions(ctx context.Context, filter api.ExecutionFilter) (*api.ExecutionPage, error) {
	filter = normalizeFilter(filter)

	var (
		where []string
		args  []any
	)
	if filter.ServerID != "" {
		where = append(where, "server_id = ?")
		args = append(args, filter.ServerID)
	}
	if filter.ToolID != "" {
		where = append(where, "tool_id = ?")
		args = append(args, filter.ToolID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &api.ExecutionPage{Limit: filter.Limit, Offset: filter.Offset, Records: []*api.ExecutionRecord{}}
	if err := r.queryRow(ctx, r.db, "SELECT COUNT(*) FROM executions"+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("counting executions: %w", err)
	}

	rows, err := r.query(ctx, r.db, "SELECT "+executionColumns+" FROM executions"+clause+
		" ORDER BY started_at DESC, id LIMIT ? OFFSET ?", append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, rec)
	}
	page.HasMore = filter.Offset+len(page.Records) < page.Total
	return page, rows.Err()
}

// Credentials

const credentialColumns = "integration, account, scopes, expires_at, revoked, sealed, updated_at"

func scanCredential(row rowScanner) (*api.SealedCredential, error) {
	var (
		c                api.SealedCredential
		scopes           string
		expires, updated string
	)
	if err := row.Scan(&c.Integration, &c.Account, &scopes, &expires, &c.Revoked, &c.Sealed, &updated); err != nil {
		return nil, err
	}
	if err := fromJSON(scopes, &c.Scopes); err != nil {
		return nil, err
	}
	c.ExpiresAt = parseTime(expires)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

func (r *sqlRegistry) PutCredential(ctx context.Context, cred *api.SealedCredential) error {
	scopes, err := toJSON(cred.Scopes)
	if err != nil {
		return err
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = r.now()
	}
	_, err = r.exec(ctx, r.db, "INSERT INTO credentials ("+credentialColumns+") VALUES (?, ?, ?, ?, ?, ?, ?) "+
		"ON CONFLICT (integration, account) DO UPDATE SET scopes = excluded.scopes, expires_at = excluded.expires_at, "+
		"revoked = excluded.revoked, sealed = excluded.sealed, updated_at = excluded.updated_at",
		cred.Integration, cred.Account, scopes, formatTime(cred.ExpiresAt), cred.Revoked, cred.Sealed, formatTime(cred.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving credential %s: %w", credentialKey(cred.Integration, cred.Account), err)
	}
	return nil
}

func (r *sqlRegistry) GetCredential(ctx context.Context, integration, account string) (*api.SealedCredential, error) {
	c, err := scanCredential(r.queryRow(ctx, r.db, "SELECT "+credentialColumns+" FROM credentials WHERE integration = ? AND account = ?", integration, account))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.NewNotFoundError("credential", credentialKey(integration, account))
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}
	return c, nil
}

func (r *sqlRegistry) DeleteCredential(ctx context.Context, integration, account string) error {
	res, err := r.exec(ctx, r.db, "DELETE FROM credentials WHERE integration = ? AND account = ?", integration, account)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return api.NewNotFoundError("credential", credentialKey(integration, account))
	}
	return nil
}

func (r *sqlRegistry) ListCredentials(ctx context.Context, integration string) ([]*api.SealedCredential, error) {
	query := "SELECT " + credentialColumns + " FROM credentials"
	var args []any
	if integration != "" {
		query += " WHERE integration = ?"
		args = append(args, integration)
	}
	rows, err := r.query(ctx, r.db, query+" ORDER BY integration, account", args...)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()
	var out []*api.SealedCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *sqlRegistry) Close() error {
	return r.db.Close()
}
