package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	fxcbor "github.com/fxamacker/cbor/v2"
	"github.com/muesli/termenv"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/boot"
	"github.com/polydawn/treecommit/caps"
	"github.com/polydawn/treecommit/compose"
	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/deployment"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/store"
	"github.com/polydawn/treecommit/store/fsrepo"
)

/*
	Output formats for describe
*/
const (
	FmtJson  = "json"
	FmtTuple = "tuple"
)

type baseCLI struct {
	Repo       string // Repo path; overrides config and env
	ConfigFile string // Optional TOML config
	CommitCLI  struct {
		InstallRoot string
		Ref         string
		Message     string
		SignKey     string
		GPGHomedir  string
		Version     string
	}
	InitCLI struct {
		Path string
		Mode string
	}
	RemoteAddCLI struct {
		Name        string
		URL         string
		NoGPGVerify bool
	}
	DescribeCLI struct {
		OSName   string
		Checksum string
		Serial   int32
		Origin   string // Path to an origin file
		Format   string
		Update   bool
		Refspec  string
	}
	CheckoutCLI struct {
		Rev  string
		Dest string
	}

	// Runs depmod and dracut for commit.  Nil chroots for real.
	bootRunner boot.Runner

	stdout io.Writer
	stderr io.Writer
}

func configureCommit(cli *baseCLI, cmd *kingpin.CmdClause) {
	cmd.Arg("installroot", "Install root to transform and commit").
		Required().
		StringVar(&cli.CommitCLI.InstallRoot)
	cmd.Arg("ref", "Ref to commit onto").
		Required().
		StringVar(&cli.CommitCLI.Ref)
	cmd.Flag("message", "Commit message").
		Short('m').
		StringVar(&cli.CommitCLI.Message)
	cmd.Flag("gpg-sign", "Sign the commit with this key id").
		StringVar(&cli.CommitCLI.SignKey)
	cmd.Flag("gpg-homedir", "Directory holding the signing keyrings").
		StringVar(&cli.CommitCLI.GPGHomedir)
	cmd.Flag("version", "Version string recorded in commit metadata").
		StringVar(&cli.CommitCLI.Version)
}

func configureInit(cli *baseCLI, cmd *kingpin.CmdClause) {
	cmd.Arg("path", "Where to create the repo").
		Required().
		StringVar(&cli.InitCLI.Path)
	cmd.Flag("mode", "Repo mode [bare, archive]").
		Default(string(fsrepo.ModeBare)).
		EnumVar(&cli.InitCLI.Mode,
			string(fsrepo.ModeBare), string(fsrepo.ModeArchive))
}

func configureRemoteAdd(cli *baseCLI, cmd *kingpin.CmdClause) {
	cmd.Arg("name", "Remote name").
		Required().
		StringVar(&cli.RemoteAddCLI.Name)
	cmd.Arg("url", "Remote URL").
		Required().
		StringVar(&cli.RemoteAddCLI.URL)
	cmd.Flag("no-gpg-verify", "Don't require signatures on commits from this remote").
		BoolVar(&cli.RemoteAddCLI.NoGPGVerify)
}

func configureDescribe(cli *baseCLI, cmd *kingpin.CmdClause) {
	cmd.Flag("osname", "OS name of the deployment").
		Required().
		StringVar(&cli.DescribeCLI.OSName)
	cmd.Flag("checksum", "Commit the deployment was checked out from").
		Required().
		StringVar(&cli.DescribeCLI.Checksum)
	cmd.Flag("serial", "Deployment serial").
		Default("0").
		Int32Var(&cli.DescribeCLI.Serial)
	cmd.Flag("origin", "Origin file of the deployment").
		StringVar(&cli.DescribeCLI.Origin)
	cmd.Flag("format", "Output format [json, tuple]").
		Default(FmtJson).
		EnumVar(&cli.DescribeCLI.Format, FmtJson, FmtTuple)
	cmd.Flag("update", "Describe the commit the origin's refspec now points to, instead of the deployment").
		BoolVar(&cli.DescribeCLI.Update)
	cmd.Flag("refspec", "With --update, follow this refspec instead of the origin's").
		StringVar(&cli.DescribeCLI.Refspec)
}

func configureCheckout(cli *baseCLI, cmd *kingpin.CmdClause) {
	cmd.Arg("rev", "Ref or checksum to check out").
		Required().
		StringVar(&cli.CheckoutCLI.Rev)
	cmd.Arg("dest", "Path to create").
		Required().
		StringVar(&cli.CheckoutCLI.Dest)
}

func main() {
	ctx := context.Background()
	exitCode := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) treecommit.ExitCode {
	return (&baseCLI{stdout: stdout, stderr: stderr}).main(ctx, args)
}

func (cli *baseCLI) main(ctx context.Context, args []string) treecommit.ExitCode {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	stderr := cli.stderr

	app := kingpin.New("treecommit", "Turn an install root into a committed, deployable tree")
	app.HelpFlag.Short('h')

	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)

	app.Flag("repo", "Path to the repo").
		StringVar(&cli.Repo)
	app.Flag("config", "TOML config file").
		StringVar(&cli.ConfigFile)

	appCommit := app.Command("commit", "transform an install root and commit it onto a ref")
	configureCommit(cli, appCommit)

	appInit := app.Command("init", "create an empty repo")
	configureInit(cli, appInit)

	appRemote := app.Command("remote", "manage remotes")
	appRemoteAdd := appRemote.Command("add", "add a remote")
	configureRemoteAdd(cli, appRemoteAdd)

	appDescribe := app.Command("describe", "describe a deployment of a commit")
	configureDescribe(cli, appDescribe)

	appCheckout := app.Command("checkout", "check out a commit into a new directory")
	configureCheckout(cli, appCheckout)

	commands := map[string]func(context.Context, *baseCLI) error{
		appCommit.FullCommand():    executeCommit,
		appInit.FullCommand():      executeInit,
		appRemoteAdd.FullCommand(): executeRemoteAdd,
		appDescribe.FullCommand():  executeDescribe,
		appCheckout.FullCommand():  executeCheckout,
	}

	terminated := -1
	app.Terminate(func(status int) {
		terminated = status
	})
	cmd, err := app.Parse(args[1:])
	if err != nil {
		reportError(stderr, Errorf(treecommit.ErrUsage, "%s", err))
		return treecommit.ExitError
	}
	switch terminated {
	case -1:
	case 0:
		return treecommit.ExitSuccess // --help; kingpin has already printed.
	default:
		return treecommit.ExitError
	}
	execute, ok := commands[cmd]
	if !ok {
		reportError(stderr, Errorf(treecommit.ErrUsage, "unknown command %q", cmd))
		return treecommit.ExitError
	}
	err = execute(ctx, cli)
	if err != nil {
		reportError(stderr, err)
	}
	return treecommit.ExitCodeFor(err)
}

/*
	Print "error: MESSAGE" to stderr.  The prefix is bold red when stderr
	is a terminal, and plain otherwise.
*/
func reportError(stderr io.Writer, err error) {
	profile := termenv.Ascii
	if config.IsTerminal(stderr) {
		profile = termenv.ANSI
	}
	out := termenv.NewOutput(stderr, termenv.WithProfile(profile))
	prefix := out.String("error:").Foreground(termenv.ANSIRed).Bold()
	fmt.Fprintf(stderr, "%s %s\n", prefix, err)
}

// Env, then config file, then flags.
func (cli *baseCLI) config() (config.Config, error) {
	cfg := config.FromEnv()
	cfg.Log = config.NewLogger(cli.stderr)
	if cli.ConfigFile != "" {
		if err := config.LoadFile(cli.ConfigFile, &cfg); err != nil {
			return cfg, err
		}
	}
	if cli.Repo != "" {
		cfg.StorePath = cli.Repo
	}
	return cfg, nil
}

func executeCommit(ctx context.Context, cli *baseCLI) error {
	cfg, err := cli.config()
	if err != nil {
		return err
	}
	if cli.CommitCLI.Message != "" {
		cfg.CommitMessage = cli.CommitCLI.Message
	}
	if cli.CommitCLI.SignKey != "" {
		cfg.SignKey = cli.CommitCLI.SignKey
	}
	if cli.CommitCLI.GPGHomedir != "" {
		cfg.GPGHomedir = cli.CommitCLI.GPGHomedir
	}
	if cli.CommitCLI.Version != "" {
		md := make(map[string]string, len(cfg.Metadata)+1)
		for k, v := range cfg.Metadata {
			md[k] = v
		}
		md[store.MetaVersion] = cli.CommitCLI.Version
		cfg.Metadata = md
	}
	installRoot, err := fs.ToAbsolutePath(cli.CommitCLI.InstallRoot)
	if err != nil {
		return Errorf(treecommit.ErrUsage, "bad install root %q: %s", cli.CommitCLI.InstallRoot, err)
	}

	result, err := (&compose.Composer{Config: cfg, Runner: cli.bootRunner}).Run(ctx, installRoot, cli.CommitCLI.Ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout, "%s => %s\n", result.Ref, result.Checksum)
	if result.Preserved {
		fmt.Fprintf(cli.stdout, "Preserved %s\n", installRoot)
	}
	return nil
}

func executeInit(ctx context.Context, cli *baseCLI) error {
	path, err := fs.ToAbsolutePath(cli.InitCLI.Path)
	if err != nil {
		return Errorf(treecommit.ErrUsage, "bad repo path %q: %s", cli.InitCLI.Path, err)
	}
	_, err = fsrepo.Init(path, fsrepo.Mode(cli.InitCLI.Mode))
	return err
}

func executeRemoteAdd(ctx context.Context, cli *baseCLI) error {
	repo, err := cli.openRepo()
	if err != nil {
		return err
	}
	return repo.AddRemote(cli.RemoteAddCLI.Name, cli.RemoteAddCLI.URL, !cli.RemoteAddCLI.NoGPGVerify)
}

func executeDescribe(ctx context.Context, cli *baseCLI) error {
	repo, err := cli.openRepo()
	if err != nil {
		return err
	}
	record := deployment.Record{
		OSName:   cli.DescribeCLI.OSName,
		Checksum: cli.DescribeCLI.Checksum,
		Serial:   cli.DescribeCLI.Serial,
	}
	if cli.DescribeCLI.Origin != "" {
		record.Origin, err = deployment.LoadOrigin(cli.DescribeCLI.Origin)
		if err != nil {
			return err
		}
	}
	builder := &deployment.Builder{Store: repo, Log: repo.Log}
	if cli.DescribeCLI.Update {
		return cli.describeUpdate(builder, record)
	}
	d := builder.Describe(record)
	switch cli.DescribeCLI.Format {
	case FmtJson:
		if err := deployment.EncodeJSON(cli.stdout, d); err != nil {
			return err
		}
		fmt.Fprintln(cli.stdout)
	case FmtTuple:
		bs, err := deployment.EncodeTuple(d)
		if err != nil {
			return err
		}
		diag, err := fxcbor.Diagnose(bs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.stdout, diag)
	default:
		panic(fmt.Errorf("treecommit: invalid format %s", cli.DescribeCLI.Format))
	}
	return nil
}

// Nothing is printed when there's no update to describe.
func (cli *baseCLI) describeUpdate(builder *deployment.Builder, record deployment.Record) error {
	u, ok := builder.CachedUpdate(record, cli.DescribeCLI.Refspec)
	if !ok {
		return nil
	}
	switch cli.DescribeCLI.Format {
	case FmtJson:
		if err := deployment.EncodeUpdateJSON(cli.stdout, u); err != nil {
			return err
		}
		fmt.Fprintln(cli.stdout)
	case FmtTuple:
		bs, err := deployment.EncodeUpdateTuple(u)
		if err != nil {
			return err
		}
		diag, err := fxcbor.Diagnose(bs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.stdout, diag)
	default:
		panic(fmt.Errorf("treecommit: invalid format %s", cli.DescribeCLI.Format))
	}
	return nil
}

func executeCheckout(ctx context.Context, cli *baseCLI) error {
	repo, err := cli.openRepo()
	if err != nil {
		return err
	}
	c, err := repo.ResolveRev(cli.CheckoutCLI.Rev, false)
	if err != nil {
		return err
	}
	dest, err := fs.ToAbsolutePath(cli.CheckoutCLI.Dest)
	if err != nil {
		return Errorf(treecommit.ErrUsage, "bad destination %q: %s", cli.CheckoutCLI.Dest, err)
	}
	return repo.Checkout(c, dest, !caps.Scan().CanManageOwnership())
}

func (cli *baseCLI) openRepo() (*fsrepo.Repo, error) {
	cfg, err := cli.config()
	if err != nil {
		return nil, err
	}
	return compose.OpenRepo(cfg)
}
