package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studyline/internal/app"
	"studyline/internal/calendar"
	"studyline/internal/config"
	"studyline/internal/db"
	"studyline/internal/engine"
	"studyline/internal/metrics"
	"studyline/internal/migrate"
	"studyline/internal/repo"
	"studyline/internal/server"
	"studyline/internal/taskfile"
	"studyline/internal/tracing"
)

const version = "0.1.0"

// profileEnvKey is written to <workspace>/.env by `sl profile use`.
const profileEnvKey = "STUDYLINE_PROFILE"

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Studyline CLI",
	Long: `Studyline plans study hours for assignments.
- Workspace: a .studyline directory holding the SQLite database.
- Profile: one student's task list and schedule settings.
- Tasks: assignments with a deadline in days, total hours, weight and size.
- Schedule: a greedy day-by-day plan that gives each hour to the most urgent task,
  written as an iCalendar file or pushed to Google Calendar.
- Event log: every change is recorded, view with 'sl log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if file := viper.GetString("trace-file"); file != "" {
			if err := tracing.Init("studyline", version, file); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("trace-file") == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracing.Shutdown(ctx)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STUDYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("profile", "", "profile id (overrides the workspace default)")
	rootCmd.PersistentFlags().String("trace-file", "", "write OpenTelemetry spans to this file")
	for _, name := range []string{"workspace", "json", "actor-id", "profile", "trace-file"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- profiles ---

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage profiles"}
	cmd.AddCommand(profileListCmd())
	cmd.AddCommand(profileCreateCmd())
	cmd.AddCommand(profileShowCmd())
	cmd.AddCommand(profileDeleteCmd())
	cmd.AddCommand(profileUseCmd())
	cmd.AddCommand(profileConfigCmd())
	return cmd
}

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProfiles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func profileCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, nil)
				p, err := e.CreateProfile(ctx, strings.TrimSpace(args[0]), name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProfile(ctx, e.Config.Profile.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func profileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a profile with its tasks and runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, nil)
				if err := e.DeleteProfile(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted profile %s\n", args[0])
				return nil
			})
		},
	}
}

func profileUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default profile for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profileID := strings.TrimSpace(args[0])
			if profileID == "" {
				return fmt.Errorf("profile id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), profileEnvKey, profileID); err != nil {
				return err
			}
			fmt.Printf("Set %s=%s in %s/.env\n", profileEnvKey, profileID, workspace)
			return nil
		},
	}
}

func profileConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage the profile config stored in the DB"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show profile config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	})
	var filePath string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import profile config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				filePath = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				profileID := e.Config.Profile.ID
				cfg.Profile.ID = profileID
				if err := e.ImportConfig(ctx, profileID, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Imported %s into profile %s\n", filePath, profileID)
				return nil
			})
		},
	}
	imp.Flags().StringVar(&filePath, "file", "", "path to YAML config (default <workspace>/studyline.yml)")
	cmd.AddCommand(imp)
	return cmd
}

// --- config file ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Work with the workspace studyline.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init <profile-id>",
		Short: "Write a default studyline.yml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(args[0])), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate studyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("no %s found", config.Path(viper.GetString("workspace")))
			}
			fmt.Printf("Config OK for profile %s\n", cfg.Profile.ID)
			return nil
		},
	})
	return cmd
}

// --- tasks ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskDeleteCmd())
	cmd.AddCommand(taskImportCmd())
	cmd.AddCommand(taskExportCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProfileID = e.Config.Profile.ID
				opts.ActorID = viper.GetString("actor-id")
				if opts.GroupSize > 1 {
					opts.GroupWork = true
				}
				t, err := e.AddTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject")
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().IntVar(&opts.Deadline, "deadline", 0, "days until the deadline")
	cmd.Flags().IntVar(&opts.Duration, "duration", 0, "total hours of work")
	cmd.Flags().Float64Var(&opts.Weight, "weight", 0, "percentage of the final grade")
	cmd.Flags().IntVar(&opts.Size, "size", 0, "1 (big), 2 (medium) or 3 (small)")
	cmd.Flags().BoolVar(&opts.GroupWork, "group", false, "group work")
	cmd.Flags().IntVar(&opts.GroupSize, "group-size", 1, "people sharing the work")
	for _, name := range []string{"subject", "name", "deadline", "duration", "weight", "size"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProfileID = e.Config.Profile.ID
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Subject", "Name", "Deadline", "Duration", "Real", "Weight", "Size", "Group"})
				for _, t := range tasks {
					group := "-"
					if t.GroupWork {
						group = fmt.Sprintf("%d", t.GroupSize)
					}
					tw.AppendRow(table.Row{t.Subject, t.Name, t.Deadline, t.Duration, t.RealDuration(), t.Weight, sizeLabel(t.Size), group})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Sort, "sort", repo.SortCreated, "order: created, deadline or duration")
	cmd.Flags().StringVar(&f.Subject, "subject", "", "subject filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of tasks")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id|name>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ResolveTask(ctx, e.Config.Profile.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var (
		subject, name                        string
		deadline, duration, size, groupSize int
		weight                               float64
		group                                bool
	)
	cmd := &cobra.Command{
		Use:   "update <id|name>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				current, err := e.ResolveTask(ctx, e.Config.Profile.ID, args[0])
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				opts := engine.TaskUpdateOptions{ID: current.ID, ActorID: viper.GetString("actor-id")}
				if flags.Changed("subject") {
					opts.Subject = &subject
				}
				if flags.Changed("name") {
					opts.Name = &name
				}
				if flags.Changed("deadline") {
					opts.Deadline = &deadline
				}
				if flags.Changed("duration") {
					opts.Duration = &duration
				}
				if flags.Changed("weight") {
					opts.Weight = &weight
				}
				if flags.Changed("size") {
					opts.Size = &size
				}
				if flags.Changed("group") {
					opts.GroupWork = &group
				}
				if flags.Changed("group-size") {
					opts.GroupSize = &groupSize
				}
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().IntVar(&deadline, "deadline", 0, "days until the deadline")
	cmd.Flags().IntVar(&duration, "duration", 0, "total hours of work")
	cmd.Flags().Float64Var(&weight, "weight", 0, "percentage of the final grade")
	cmd.Flags().IntVar(&size, "size", 0, "1 (big), 2 (medium) or 3 (small)")
	cmd.Flags().BoolVar(&group, "group", false, "group work")
	cmd.Flags().IntVar(&groupSize, "group-size", 0, "people sharing the work")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ResolveTask(ctx, e.Config.Profile.ID, args[0])
				if err != nil {
					return err
				}
				if _, err := e.DeleteTask(ctx, t.ID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted %s (%s)\n", t.Name, t.ID)
				return nil
			})
		},
	}
}

func taskImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tasks from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := taskfile.Load(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(items) == 0 {
					fmt.Printf("No tasks in %s\n", filePath)
					return nil
				}
				added, err := e.ImportTasks(ctx, e.Config.Profile.ID, items, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(added)
				}
				fmt.Printf("Imported %d tasks into profile %s\n", len(added), e.Config.Profile.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to the JSON task file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func taskExportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tasks to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ExportTasks(ctx, e.Config.Profile.ID)
				if err != nil {
					return err
				}
				if filePath == "" || filePath == "-" {
					return taskfile.Encode(os.Stdout, items)
				}
				if err := taskfile.Save(filePath, items); err != nil {
					return err
				}
				fmt.Printf("Exported %d tasks to %s\n", len(items), filePath)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "output path (stdout when empty)")
	return cmd
}

// --- schedule ---

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Short: "Plan study hours"}
	cmd.AddCommand(scheduleRunCmd())
	cmd.AddCommand(scheduleHistoryCmd())
	return cmd
}

type scheduleFlags struct {
	weekdayHours, weekendHours, maxDays int
	out                                 string
	google, noICS                       bool
}

func (f *scheduleFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.weekdayHours, "weekday-hours", 0, "hours per weekday (default from profile config)")
	cmd.Flags().IntVar(&f.weekendHours, "weekend-hours", 0, "hours per weekend day (default from profile config)")
	cmd.Flags().IntVar(&f.maxDays, "max-days", 0, "abort after this many days (default from profile config)")
}

func scheduleRunCmd() *cobra.Command {
	var f scheduleFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan the profile's tasks and write the calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return runSchedule(ctx, cmd, e, f)
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&f.out, "out", "", "iCalendar output path (default <output_dir>/<profile>_schedule.ics)")
	cmd.Flags().BoolVar(&f.noICS, "no-ics", false, "do not write an iCalendar file")
	cmd.Flags().BoolVar(&f.google, "google", false, "also push events to Google Calendar")
	return cmd
}

func runSchedule(ctx context.Context, cmd *cobra.Command, e engine.Engine, f scheduleFlags) error {
	cfg := e.Config
	icsOpts, err := calendar.OptionsFor(cfg, time.Now())
	if err != nil {
		return err
	}
	opts := engine.RunOptions{
		ProfileID: cfg.Profile.ID,
		MaxDays:   f.maxDays,
		ActorID:   viper.GetString("actor-id"),
	}
	if cmd.Flags().Changed("weekday-hours") {
		opts.WeekdayHours = &f.weekdayHours
	}
	if cmd.Flags().Changed("weekend-hours") {
		opts.WeekendHours = &f.weekendHours
	}

	var ics *calendar.ICSWriter
	icsPath := f.out
	if !f.noICS {
		if icsPath == "" {
			icsPath = cfg.ICSPath(viper.GetString("workspace"))
		}
		ics, err = calendar.CreateICS(icsPath, icsOpts)
		if err != nil {
			return err
		}
		opts.Sinks = append(opts.Sinks, ics)
	}
	var gs *calendar.GoogleSink
	if f.google {
		gs, err = googleSink(ctx, cfg, icsOpts)
		if err != nil {
			if ics != nil {
				ics.Close()
			}
			return err
		}
		opts.Sinks = append(opts.Sinks, gs)
	}

	res, runErr := e.RunSchedule(ctx, opts)
	var closeErr, flushErr error
	if ics != nil {
		closeErr = ics.Close()
	}
	if gs != nil {
		flushErr = gs.Flush()
	}
	if res.Run.ID != "" {
		if err := printSchedule(res); err != nil {
			return err
		}
		if ics != nil && closeErr == nil && !viper.GetBool("json") {
			fmt.Printf("Wrote %d events to %s\n", ics.Events(), icsPath)
		}
		if gs != nil && !viper.GetBool("json") {
			fmt.Printf("Inserted %d events into Google Calendar %q\n", gs.Inserted(), cfg.Calendar.Google.CalendarName)
		}
	}
	return errors.Join(runErr, closeErr, flushErr)
}

func googleSink(ctx context.Context, cfg *config.Config, opts calendar.ICSOptions) (*calendar.GoogleSink, error) {
	workspace := viper.GetString("workspace")
	srv, err := calendar.NewService(ctx,
		workspacePath(workspace, cfg.Calendar.Google.CredentialsFile),
		workspacePath(workspace, cfg.Calendar.Google.TokenFile))
	if err != nil {
		return nil, err
	}
	calID, err := calendar.FindCalendar(ctx, srv, cfg.Calendar.Google.CalendarName)
	if err != nil {
		return nil, err
	}
	return calendar.NewGoogleSink(ctx, srv, calID, opts), nil
}

func printSchedule(res engine.RunResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Day", "Hour", "Task"})
	for _, day := range res.Days {
		for _, ev := range day.Events {
			tw.AppendRow(table.Row{ev.Day, ev.Hour, ev.TaskName})
		}
		for _, m := range day.Missed {
			tw.AppendRow(table.Row{m.Day, "-", fmt.Sprintf("MISSED %s (%dh left)", m.Name, m.Remaining)})
		}
		if len(day.Events) > 0 || len(day.Missed) > 0 {
			tw.AppendSeparator()
		}
	}
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d days, %d hours, %d completed, %d missed",
		res.Run.Days, len(res.Events), len(res.Completed), len(res.Missed))})
	tw.Render()
	return nil
}

func scheduleHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past schedule runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.ScheduleHistory(ctx, e.Config.Profile.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Created", "State", "Hours/day", "Tasks", "Days", "Events", "Completed", "Missed"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.CreatedAt, r.State, fmt.Sprintf("%d/%d", r.WeekdayHours, r.WeekendHours), r.Tasks, r.Days, r.Events, r.Completed, r.Missed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

// --- calendar ---

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "calendar", Short: "Google Calendar integration"}
	var code string
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workspace := viper.GetString("workspace")
				oc, err := calendar.OAuthConfig(workspacePath(workspace, e.Config.Calendar.Google.CredentialsFile))
				if err != nil {
					return err
				}
				if code == "" {
					fmt.Printf("Go to the following link in your browser, then type the authorization code:\n%s\n", calendar.AuthURL(oc))
					line, err := bufio.NewReader(os.Stdin).ReadString('\n')
					if err != nil && line == "" {
						return fmt.Errorf("read authorization code: %w", err)
					}
					code = strings.TrimSpace(line)
				}
				tokenFile := workspacePath(workspace, e.Config.Calendar.Google.TokenFile)
				if err := calendar.Exchange(ctx, oc, code, tokenFile); err != nil {
					return err
				}
				fmt.Printf("Saved token to %s\n", tokenFile)
				return nil
			})
		},
	}
	auth.Flags().StringVar(&code, "code", "", "authorization code (prompted when empty)")
	cmd.AddCommand(auth)

	var f scheduleFlags
	push := &cobra.Command{
		Use:   "push",
		Short: "Plan the profile's tasks straight into Google Calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.google, f.noICS = true, true
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return runSchedule(ctx, cmd, e, f)
			})
		},
	}
	f.bind(push)
	cmd.AddCommand(push)
	return cmd
}

// --- log, api keys, serve ---

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProfileID = e.Config.Profile.ID
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, nil)
				key, plain, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain})
				}
				fmt.Printf("Created API key %s for %s\n%s\nStore it now; it is not shown again.\n", key.ID, key.ActorID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	cmd.AddCommand(create)
	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				actor := viper.GetString("actor-id")
				if all {
					actor = ""
				}
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "list keys of every actor")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := engine.New(r.DB, nil).RevokeAPIKey(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Revoked API key %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("STUDYLINE_JWT_SECRET is required for bearer auth")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
				return err
			}
			e := engine.New(conn, nil)
			e.Metrics = metrics.New()
			logger := log.New(os.Stderr, "studyline: ", log.LstdFlags)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, Logger: logger},
				Metrics:  e.Metrics,
			})
			if err != nil {
				return err
			}
			server.StartBackground(cmd.Context(), e, logger)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Studyline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func openDB(ctx context.Context) (repo.Repo, func(), error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return repo.Repo{}, nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return repo.Repo{}, nil, err
	}
	return repo.Repo{DB: conn}, func() { conn.Close() }, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	r, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()
	_, cfg, err := app.ResolveProfileAndConfig(ctx, profileOverride(), viper.GetString("actor-id"), engine.New(r.DB, nil))
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(r.DB, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	r, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ctx, r)
}

// profileOverride returns --profile / STUDYLINE_PROFILE, falling back to the
// value saved by `sl profile use`.
func profileOverride() string {
	if p := strings.TrimSpace(viper.GetString("profile")); p != "" {
		return p
	}
	envFile := filepath.Join(viper.GetString("workspace"), ".env")
	if _, err := os.Stat(envFile); err != nil {
		return ""
	}
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return strings.TrimSpace(v.GetString(profileEnvKey))
}

func workspacePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func sizeLabel(size int) string {
	switch size {
	case 1:
		return "big"
	case 2:
		return "medium"
	case 3:
		return "small"
	}
	return fmt.Sprintf("%d", size)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
