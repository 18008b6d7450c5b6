// medledger-cli is the operations CLI for the record core. It wires the
// same stack as the server and runs a single operation against it.
//
// Usage:
//
//	medledger-cli <command> [flags]
//
// Commands: create, download, update, list, grant, revoke, verify, versions,
// rotate-key, status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/medledger/medledger/internal/server"
	"github.com/medledger/medledger/internal/server/config"
	"github.com/medledger/medledger/internal/server/services"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	if cfg.MasterKeyPassphrase == "" {
		pass, err := promptPassphrase()
		if err != nil {
			fatal(err)
		}
		cfg.MasterKeyPassphrase = pass
	}

	app := server.NewApp(cfg)
	if err := app.Bootstrap(ctx); err != nil {
		fatal(err)
	}
	defer app.Close()

	if err := run(ctx, app, command, args); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, app *server.App, command string, args []string) error {
	svc := app.Service()

	switch command {
	case "create":
		return runCreate(ctx, svc, args)
	case "download":
		return runDownload(ctx, svc, args)
	case "update":
		return runUpdate(ctx, svc, args)
	case "list":
		return runList(ctx, svc, args)
	case "grant":
		return runGrant(ctx, svc, args)
	case "revoke":
		return runRevoke(ctx, svc, args)
	case "verify":
		return runVerify(ctx, svc, args)
	case "versions":
		return runVersions(ctx, svc, args)
	case "rotate-key":
		return runRotateKey(ctx, svc, args)
	case "status":
		fmt.Printf("ledger: %s\n", app.LedgerStatus())
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runCreate(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	patient := fs.String("patient", "", "patient id")
	creator := fs.String("creator", "", "creator id")
	title := fs.String("title", "", "record title")
	desc := fs.String("desc", "", "record description")
	fileType := fs.String("type", "", "file type (PDF, DICOM, IMAGE, OTHER)")
	file := fs.String("file", "", "path to the content file")
	_ = fs.Parse(args)

	content, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	result, err := svc.CreateRecord(ctx, &services.CreateRecordRequest{
		PatientID:   *patient,
		CreatorID:   *creator,
		Title:       *title,
		Description: *desc,
		FileType:    *fileType,
		FileName:    *file,
		Content:     content,
	})
	if err != nil {
		return err
	}
	fmt.Printf("record: %s\ncontent hash: %s\n", result.RecordID, result.ContentHash)
	if result.ContentAddress != "" {
		fmt.Printf("content address: %s\nversion: %d\nroot: %s\n",
			result.ContentAddress, result.Version, result.Root)
	}
	if result.LedgerTxID != "" {
		fmt.Printf("ledger tx: %s\n", result.LedgerTxID)
	}
	if len(result.Degraded) > 0 {
		fmt.Printf("degraded: %s\n", strings.Join(result.Degraded, ", "))
	}
	return nil
}

func runDownload(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	record := fs.String("record", "", "record id")
	user := fs.String("user", "", "requesting user id")
	out := fs.String("out", "", "output file path")
	_ = fs.Parse(args)

	result, err := svc.DownloadRecord(ctx, *record, *user)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = result.FileName
	}
	if path == "" {
		path = result.Record.RecordID
	}
	if err := os.WriteFile(path, result.Content, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s (version %d)\n", len(result.Content), path, result.Version)
	return nil
}

func runUpdate(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	record := fs.String("record", "", "record id")
	user := fs.String("user", "", "updating user id")
	file := fs.String("file", "", "path to the new content file")
	mime := fs.String("mime", "", "mime type")
	_ = fs.Parse(args)

	content, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	result, err := svc.UpdateRecordContent(ctx, *record, *user, content, *file, *mime)
	if err != nil {
		return err
	}
	fmt.Printf("version: %d\ncontent address: %s\nroot: %s\n",
		result.Version, result.ContentAddress, result.Root)
	if result.LedgerTxID != "" {
		fmt.Printf("ledger tx: %s\n", result.LedgerTxID)
	}
	if len(result.Degraded) > 0 {
		fmt.Printf("degraded: %s\n", strings.Join(result.Degraded, ", "))
	}
	return nil
}

func runList(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	patient := fs.String("patient", "", "patient id")
	_ = fs.Parse(args)

	recs, err := svc.ListRecordsByPatient(ctx, *patient)
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Printf("%s  %-6s  %s\n", r.RecordID, r.FileType, r.Title)
	}
	return nil
}

func runGrant(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	record := fs.String("record", "", "record id")
	grantee := fs.String("grantee", "", "grantee user id")
	grantor := fs.String("grantor", "", "grantor user id")
	perm := fs.String("perm", "read", "permission (read, write, admin)")
	expires := fs.String("expires", "", "expiry (RFC3339), empty for none")
	_ = fs.Parse(args)

	req := &services.GrantAccessRequest{
		RecordID:   *record,
		GranteeID:  *grantee,
		GrantorID:  *grantor,
		Permission: *perm,
	}
	if *expires != "" {
		t, err := time.Parse(time.RFC3339, *expires)
		if err != nil {
			return fmt.Errorf("parsing expiry: %w", err)
		}
		req.ExpiresAt = &t
	}
	result, err := svc.GrantAccess(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("permission: %s\n", result.PermissionID)
	if result.LedgerTxID != "" {
		fmt.Printf("ledger tx: %s\n", result.LedgerTxID)
	}
	if len(result.Degraded) > 0 {
		fmt.Printf("degraded: %s\n", strings.Join(result.Degraded, ", "))
	}
	return nil
}

func runRevoke(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	record := fs.String("record", "", "record id")
	grantee := fs.String("grantee", "", "grantee user id")
	revoker := fs.String("revoker", "", "revoking user id")
	_ = fs.Parse(args)

	result, err := svc.RevokeAccess(ctx, *record, *grantee, *revoker)
	if err != nil {
		return err
	}
	fmt.Println("revoked")
	if result.LedgerTxID != "" {
		fmt.Printf("ledger tx: %s\n", result.LedgerTxID)
	}
	return nil
}

func runVerify(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	record := fs.String("record", "", "record id")
	_ = fs.Parse(args)

	result, err := svc.VerifyRecord(ctx, *record)
	if err != nil {
		return err
	}
	fmt.Printf("record: %s\nversions: %d\nchain ok: %v\n", result.RecordID, result.Versions, result.ChainOK)
	if result.LedgerChecked {
		fmt.Printf("ledger anchor ok: %v\n", result.LedgerOK)
	} else {
		fmt.Println("ledger anchor: unchecked (ledger unreachable)")
	}
	return nil
}

func runVersions(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	record := fs.String("record", "", "record id")
	user := fs.String("user", "", "requesting user id")
	_ = fs.Parse(args)

	rows, err := svc.ListRecordVersions(ctx, *record, *user)
	if err != nil {
		return err
	}
	for _, v := range rows {
		fmt.Printf("v%d  %s  %s  by %s at %s\n",
			v.Version, v.ContentAddress, v.Root, v.CreatedBy, v.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runRotateKey(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("rotate-key", flag.ExitOnError)
	record := fs.String("record", "", "record id")
	user := fs.String("user", "", "requesting user id")
	_ = fs.Parse(args)

	result, err := svc.RotateDataKey(ctx, *record, *user)
	if err != nil {
		return err
	}
	fmt.Printf("re-sealed as version %d at %s\n", result.Version, result.ContentAddress)
	return nil
}

func promptPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "master key passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pass), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: medledger-cli <command> [flags]

commands:
  create      create a record from a file
  download    download and decrypt a record
  update      append a new content version to a record
  list        list a patient's records
  grant       grant access to a record
  revoke      revoke access to a record
  verify      verify a record's version chain and ledger anchor
  versions    list a record's version chain
  rotate-key  rotate a record's data key
  status      show ledger connection state`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
