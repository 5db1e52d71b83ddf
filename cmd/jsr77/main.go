package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/jsr77"
	"github.com/loykin/jsr77/internal/logger"
)

func main() {
	root := buildRoot(newCommand())
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and all subcommands.
func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(c, globalFlags),
		createHealthCommand(c),
		createQueryCommand(c),
		createGetCommand(c),
		createStatsCommand(c),
		createChildrenCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createSetCommand(c),
		createDeployCommand(c),
		createUndeployCommand(c),
		createDeploymentsCommand(c),
		createWatchCommand(c),
		createTemplateCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "jsr77",
		Short: "J2EE management server and client",
		Long: `jsr77 runs a J2EE management domain: the managed object tree of one
server, its deployments and an HTTP management API. The other commands
talk to a running server.

Examples:
  jsr77 serve --config=jsr77.toml
  jsr77 query --pattern='jboss:j2eeType=WebModule,*'
  jsr77 get --name='jboss:j2eeType=J2EEServer,name=Local'
  jsr77 deploy --path=./shop.war
  jsr77 watch --type=j2ee.state.running`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "management API URL (default http://127.0.0.1:8077/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate to verify an HTTPS server")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "table", "output format: table or json")
}

func requireFlag(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}

func createServeCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the management server",
		Long: `Run the management server. Without a config file the defaults apply,
overridden by JSR77_* environment variables.

Examples:
  jsr77 serve
  jsr77 serve jsr77.toml
  jsr77 serve --config=jsr77.toml --daemonize --pidfile=/run/jsr77.pid --logfile=/var/log/jsr77.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(cmd.Context(), c.out, serveFlags, args)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the server PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "write server logs to this file")
	cmd.Flags().BoolVar(&serveFlags.NonBlocking, "non-blocking", false, "start and stop again immediately (smoke test)")
	return cmd
}

func runServeCommand(ctx context.Context, out io.Writer, flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := jsr77.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.LogFile != "" {
		cfg.Log.File.Path = flags.LogFile
	}

	if flags.Daemonize {
		pid, err := daemonize(flags.PidFile, flags.LogFile)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Daemon started with PID %d\n", pid)
		return nil
	}

	log, closer, err := logger.New("jsr77", cfg.Log)
	if err != nil {
		return fmt.Errorf("error setting up logging: %w", err)
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	srv, err := jsr77.New(cfg, jsr77.WithLogger(log))
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			log.Warn("Failed to write PID file", "path", flags.PidFile, "error", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}
	_, _ = fmt.Fprintf(out, "Serving domain %s on %s%s\n", cfg.Domain.Name, srv.Addr(), cfg.Server.BasePath)

	if !flags.NonBlocking {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		<-sigCtx.Done()
		stop()
		_, _ = fmt.Fprintln(out, "Shutting down...")
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}

func createHealthCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show whether the server is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Health(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createQueryCommand(c command) *cobra.Command {
	f := &QueryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List object names matching a pattern",
		Long: `List the registered object names matching a pattern. A pattern is an
object name whose domain may hold * and ? and whose property list may end
with ",*".

Examples:
  jsr77 query
  jsr77 query --pattern='jboss:j2eeType=EJBModule,*'
  jsr77 query --pattern='*:j2eeType=JVM,*' -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Query(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Pattern, "pattern", "*:*", "object name pattern")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createGetCommand(c command) *cobra.Command {
	f := &ObjectFlags{}
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a managed object or one of its attributes",
		Long: `Show the state, attributes and child categories of an object.

Examples:
  jsr77 get --name='jboss:j2eeType=J2EEServer,name=Local'
  jsr77 get --name='jboss:j2eeType=J2EEServer,name=Local' --attribute=serverVendor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Get(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "object name (required)")
	cmd.Flags().StringVar(&f.Attribute, "attribute", "", "print only this attribute")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name")
	return cmd
}

func createStatsCommand(c command) *cobra.Command {
	f := &ObjectFlags{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the statistics of an object",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stats(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "object name (required)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name")
	return cmd
}

func createChildrenCommand(c command) *cobra.Command {
	f := &ObjectFlags{}
	cmd := &cobra.Command{
		Use:   "children",
		Short: "List the children of an object",
		Long: `List the children of an object by category, or the children of one
category.

Examples:
  jsr77 children --name='jboss:j2eeType=J2EEServer,name=Local'
  jsr77 children --name='jboss:j2eeType=J2EEServer,name=Local' --category=resources`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Children(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "object name (required)")
	cmd.Flags().StringVar(&f.Category, "category", "", "child category")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name")
	return cmd
}

func createStartCommand(c command) *cobra.Command {
	f := &ObjectFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a state manageable object",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "object name (required)")
	cmd.Flags().BoolVar(&f.Recursive, "recursive", false, "start the object and then its children")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name")
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	f := &ObjectFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a state manageable object and its children",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "object name (required)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name")
	return cmd
}

func createSetCommand(c command) *cobra.Command {
	f := &ObjectFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a writable attribute",
		Long: `Set a writable attribute. The value is read as JSON when it parses,
otherwise as a string.

Examples:
  jsr77 set --name='jboss.system:service=TransactionManager,name=TransactionManager' --attribute=CommitCount --value=0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Set(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "object name (required)")
	cmd.Flags().StringVar(&f.Attribute, "attribute", "", "attribute name (required)")
	cmd.Flags().StringVar(&f.Value, "value", "", "new value")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name", "attribute")
	return cmd
}

func createDeployCommand(c command) *cobra.Command {
	f := &DeployFlags{}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy an archive or exploded directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Deploy(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Path, "path", "", "path of the .ear, .war, .jar, .rar or .sar (required)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "path")
	return cmd
}

func createUndeployCommand(c command) *cobra.Command {
	f := &DeployFlags{}
	cmd := &cobra.Command{
		Use:   "undeploy",
		Short: "Undeploy a deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Undeploy(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Path, "path", "", "path the deployment was deployed from (required)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "path")
	return cmd
}

func createDeploymentsCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "List deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Deployments(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createWatchCommand(c command) *cobra.Command {
	f := &WatchFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow management notifications",
		Long: `Follow the notification stream of the server.

Examples:
  jsr77 watch
  jsr77 watch --type=j2ee.state.running --type=j2ee.state.failed
  jsr77 watch --pattern='jboss:j2eeType=WebModule,*' --count=1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Watch(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringSliceVar(&f.Types, "type", nil, "notification types to follow (repeatable)")
	cmd.Flags().StringVar(&f.Pattern, "pattern", "", "only notifications of objects matching this pattern")
	cmd.Flags().IntVar(&f.Count, "count", 0, "exit after this many notifications")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createTemplateCommand(c command) *cobra.Command {
	f := &TemplateCreateFlags{}
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate a deployment skeleton",
		Long: `Generate an exploded deployment with its descriptors.

Supported types: web (war), ejb (jar), application (ear), connector (rar),
service (sar).

Examples:
  jsr77 template --type=web --name=shop --output=./deploy
  jsr77 template --type=application --name=store --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateCreate(*f)
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "deployment type (required)")
	cmd.Flags().StringVar(&f.Name, "name", "", "deployment name (default <type>-sample)")
	cmd.Flags().StringVar(&f.Output, "output", "", "directory to write the deployment to (default .)")
	cmd.Flags().StringVar(&f.Package, "package", "", "Java package of generated classes")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the skeleton as JSON instead of writing it")
	requireFlag(cmd, "type")
	return cmd
}
