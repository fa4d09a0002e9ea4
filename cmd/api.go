package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/urfave/cli/v3"
)

// bindSession signs the raw API client in with the cached session when one exists.
func (r *Runner) bindSession(ctx context.Context, anonymous bool) error {
	if anonymous {
		return nil
	}
	_, err := r.connect(ctx, false)
	return err
}

func (r *Runner) writeResponse(resp *services.APIResponse, pretty bool) error {
	if !resp.OK() {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}

	if resp.IsJSON {
		var data any
		if err := json.Unmarshal(resp.Body, &data); err == nil {
			return r.writeJSON(data, pretty)
		}
	}
	if err := r.writeBytes(resp.Body); err != nil {
		return err
	}
	return r.writePlain("\n")
}

// APIGet makes a direct GET request to the backend
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	if err := r.bindSession(ctx, cmd.Bool("anon")); err != nil {
		return err
	}

	r.logger.Info("GET request", "path", path)

	resp, err := r.backendAPI().Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, !cmd.Bool("json"))
}

// APIPost makes a direct POST request to the backend
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	data := cmd.String("data")

	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("%w: data is not valid JSON", shared.ErrInvalidArgument)
	}
	if err := r.bindSession(ctx, cmd.Bool("anon")); err != nil {
		return err
	}

	r.logger.Info("POST request", "path", path)

	resp, err := r.backendAPI().Post(ctx, path, []byte(data))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, true)
}
