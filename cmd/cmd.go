// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   defaultConfigPath,
	}
}

func formatFlag(value string) cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, markdown, csv or json",
		Value:   value,
	}
}

func questionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "question",
		Aliases: []string{"q"},
		Usage:   "Question ID (defaults to the current question)",
	}
}

// setupCommand handles config, local database and backend schema setup
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration, local state and backend schema",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Write config.toml from the built-in template",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize the local state database and run migrations",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:  "schema",
				Usage: "Provision backend tables on a Postgres database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "database-url",
						Usage: "Postgres connection string (defaults to store.database_url)",
					},
					&cli.BoolFlag{
						Name:  "list",
						Usage: "List migration files without applying them",
					},
				},
				Action: r.SetupSchema,
			},
		},
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage your account and login",
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "Create an account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Display name"},
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Email address"},
					&cli.StringFlag{Name: "password", Usage: "Password (prompted when omitted)"},
					&cli.StringSliceFlag{
						Name:  "answer",
						Usage: "Security answer, repeat five times in order (prompted when omitted)",
					},
				},
				Action: r.AuthRegister,
			},
			{
				Name:  "login",
				Usage: "Log in and cache the session locally",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Email address"},
					&cli.StringFlag{Name: "password", Usage: "Password (prompted when omitted)"},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "logout",
				Usage:  "Log out and clear the local session",
				Action: r.AuthLogout,
			},
			{
				Name:  "status",
				Usage: "Show the logged in user and active selection",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.AuthStatus,
			},
		},
	}
}

// packagesCommand handles the package catalog
func packagesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "packages",
		Aliases: []string{"pkg"},
		Usage:   "Browse and pick question packages",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List active packages, cheapest first",
				Flags:  []cli.Flag{formatFlag("text")},
				Action: r.PackagesList,
			},
			{
				Name:  "select",
				Usage: "Select a package and start a session",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "voucher",
						Usage: "Apply a voucher code before creating the session",
					},
				},
				Action: r.PackagesSelect,
			},
		},
	}
}

// voucherCommand handles discount codes
func voucherCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "voucher",
		Usage: "Apply discount codes",
		Commands: []*cli.Command{
			{
				Name:  "apply",
				Usage: "Validate a voucher code and keep it for the next session",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "code"},
				},
				Action: r.VoucherApply,
			},
			{
				Name:  "price",
				Usage: "Show the price after the current voucher",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "package",
						Usage: "Package ID from the catalog (defaults to the selected package)",
					},
				},
				Action: r.VoucherPrice,
			},
		},
	}
}

// sessionCommand handles practice sessions
func sessionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Manage practice sessions",
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Start another session for the selected package",
				Action: r.SessionCreate,
			},
			{
				Name:  "show",
				Usage: "Show the active session",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
					&cli.BoolFlag{Name: "pretty", Usage: "Pretty-print output"},
				},
				Action: r.SessionShow,
			},
			{
				Name:  "export",
				Usage: "Export the active session to files",
				Flags: []cli.Flag{
					formatFlag("markdown"),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output path (file base for csv, directory for markdown)",
					},
					&cli.BoolFlag{
						Name:  "download",
						Usage: "Download recordings next to the Markdown report",
					},
				},
				Action: r.SessionExport,
			},
		},
	}
}

// questionCommand handles the question cursor
func questionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "question",
		Aliases: []string{"q"},
		Usage:   "Step through the session's questions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List questions with the current one marked",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "csv", Usage: "Output CSV"},
				},
				Action: r.QuestionList,
			},
			{
				Name:   "next",
				Usage:  "Move to the next question",
				Action: r.QuestionNext,
			},
		},
	}
}

// responseCommand handles recorded answers
func responseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "response",
		Usage: "Save recorded answers and their analysis",
		Commands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Upload a recording as the answer to a question",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "file"},
				},
				Flags: []cli.Flag{
					questionFlag(),
					&cli.StringFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Recording type: audio or video",
						Value:   "video",
					},
					&cli.IntFlag{
						Name:    "duration",
						Aliases: []string{"d"},
						Usage:   "Recording length in seconds",
					},
					&cli.BoolFlag{
						Name:  "next",
						Usage: "Move to the next question afterwards",
					},
					&cli.BoolFlag{
						Name:  "open",
						Usage: "Open the uploaded recording in the browser",
					},
				},
				Action: r.ResponseSave,
			},
			{
				Name:  "analyze",
				Usage: "Attach an analysis to a question's response",
				Flags: []cli.Flag{
					questionFlag(),
					&cli.StringFlag{
						Name:  "file",
						Usage: "JSON file with the analysis document",
					},
					&cli.FloatFlag{
						Name:  "rating",
						Usage: "Overall rating",
					},
					&cli.StringFlag{
						Name:  "summary",
						Usage: "Short summary",
					},
				},
				Action: r.ResponseAnalyze,
			},
		},
	}
}

// telemetryCommand handles usage data and app feedback
func telemetryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "telemetry",
		Usage: "Submit usage data and feedback",
		Commands: []*cli.Command{
			{
				Name:   "usage",
				Usage:  "Save the usage summary for the active session",
				Action: r.TelemetryUsage,
			},
			{
				Name:  "feedback",
				Usage: "Rate the app for the active session",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     "rating",
						Aliases:  []string{"r"},
						Usage:    "Rating from 1 to 5",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "text",
						Usage: "Comments",
					},
				},
				Action: r.TelemetryFeedback,
			},
			{
				Name:   "summary",
				Usage:  "Preview the usage summary without saving it",
				Flags:  []cli.Flag{formatFlag("text")},
				Action: r.TelemetrySummary,
			},
		},
	}
}

// cacheCommand handles the local state cache
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear locally cached state",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the cached login and workspace",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.CacheShow,
			},
			{
				Name:   "clear",
				Usage:  "Forget the cached login and workspace",
				Action: r.CacheClear,
			},
		},
	}
}

// apiCommand handles direct backend calls
func apiCommand(r *Runner) *cli.Command {
	anon := func() cli.Flag {
		return &cli.BoolFlag{
			Name:  "anon",
			Usage: "Send only the anon key, ignoring the cached login",
		}
	}
	return &cli.Command{
		Name:  "api",
		Usage: "Direct calls to the backend",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET to the backend, prints the body",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					anon(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output compact JSON",
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					anon(),
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
		},
	}
}

// watchCommand follows live catalog changes
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print package and voucher changes as they happen",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "catalog",
				Usage: "Print the refreshed package list after each change",
			},
		},
		Action: r.Watch,
	}
}

// publishCommand sends a change event on the configured feed
func publishCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish a packages or vouchers change so watching clients refresh",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "table"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Change type: INSERT, UPDATE or DELETE",
				Value: "UPDATE",
			},
			&cli.StringFlag{
				Name:  "record",
				Usage: "Changed row as JSON",
			},
		},
		Action: r.Publish,
	}
}

// tuiCommand launches the interactive package picker
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "tui",
		Usage:  "Pick a package interactively",
		Action: r.TUI,
	}
}
