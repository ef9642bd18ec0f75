package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/jmerrifield20/ArthaIntegrity/internal/identity"
	"github.com/jmerrifield20/ArthaIntegrity/internal/sor"
	"github.com/jmerrifield20/ArthaIntegrity/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	apiURL       string
	apiToken     string
	cfgFile      string
	outputFormat string
	timeout      time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "integrityctl",
	Short: "Artha integrity CLI",
	Long: `integrityctl talks to the integrity service: it commits record digests to
the ledger, verifies them and prints proof certificates.

Settings are read from ~/.integrity/config.yaml (api_url, token) and may be
overridden by flags or the INTEGRITY_API_URL / INTEGRITY_TOKEN variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.integrity")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("integrity")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if apiURL == "" {
			apiURL = viper.GetString("api_url")
		}
		if apiURL == "" {
			apiURL = "http://localhost:8090"
		}
		if apiToken == "" {
			apiToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.integrity/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "integrity service URL (default http://localhost:8090)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "operator bearer token for commit, verify and proof commands")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(followupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(proofCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(timeout)}
	if apiToken != "" {
		opts = append(opts, client.WithBearerToken(apiToken))
	}
	return client.New(apiURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── commit ───────────────────────────────────────────────────────────────────

var commitCmd = &cobra.Command{
	Use:   "commit <LOAN|IDENTITY> <record-id>",
	Short: "Commit a record's current digest to the ledger",
	Long: `commit reads the record from the system of record, computes its digest and
publishes it to the ledger. A record can be committed once; a second attempt
prints the existing commitment.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := digest.ParseRecordType(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		rec, err := c.Commit(cmd.Context(), args[1], string(rt))
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Existing != nil {
				fmt.Fprintf(os.Stderr, "%s is already committed\n", args[1])
				printCommitment(apiErr.Existing) //nolint:errcheck
			}
			return fmt.Errorf("commit: %w", err)
		}
		return printCommitment(rec)
	},
}

// ── followup ─────────────────────────────────────────────────────────────────

var followupCmd = &cobra.Command{
	Use:   "followup <loan-id>",
	Short: "Commit the repayment digest of a committed loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.CommitFollowup(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("followup: %w", err)
		}
		return printCommitment(rec)
	},
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status <record-id>",
	Short: "Show the stored commitment state of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.Status(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		return printCommitment(rec)
	},
}

func printCommitment(rec *client.Commitment) error {
	if outputFormat == "json" {
		return printJSON(rec)
	}
	fmt.Printf("Record:      %s\n", rec.RecordID)
	if rec.RecordType != "" {
		fmt.Printf("Type:        %s\n", rec.RecordType)
	}
	fmt.Printf("Status:      %s\n", rec.Status)
	if rec.Digest != "" {
		fmt.Printf("Digest:      %s\n", rec.Digest)
		fmt.Printf("Ledger ref:  %s\n", rec.LedgerRef)
	}
	if rec.CommittedAt != nil {
		fmt.Printf("Committed:   %s\n", rec.CommittedAt.Format(time.RFC3339))
	}
	if rec.FollowupDigest != "" {
		fmt.Printf("Followup:    %s\n", rec.FollowupDigest)
		fmt.Printf("Followup ref: %s\n", rec.FollowupLedgerRef)
	}
	return nil
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyStrict bool

var verifyCmd = &cobra.Command{
	Use:   "verify <record-id> [record-id] ...",
	Short: "Recompute record digests and compare them with the ledger",
	Long: `verify prints one verdict per record: MATCH, MISMATCH, NOT_COMMITTED or
NOT_FOUND_ON_LEDGER. With --strict the command exits non-zero unless every
record matches.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		results := make([]*client.Verification, 0, len(args))
		failed := 0
		for _, id := range args {
			res, err := c.Verify(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("verify %s: %w", id, err)
			}
			if res.Verdict != "MATCH" {
				failed++
			}
			results = append(results, res)
		}

		if outputFormat == "json" {
			var v any = results
			if len(results) == 1 {
				v = results[0]
			}
			if err := printJSON(v); err != nil {
				return err
			}
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RECORD\tTYPE\tSTATUS\tVERDICT\tREASON")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RecordID, r.RecordType, r.Status, r.Verdict, verifyReason(r))
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}

		if verifyStrict && failed > 0 {
			return fmt.Errorf("%d of %d records did not match", failed, len(results))
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict", false, "exit non-zero unless every record matches")
}

func verifyReason(r *client.Verification) string {
	var reasons []string
	if r.Commit != nil && r.Commit.Reason != "" {
		reasons = append(reasons, r.Commit.Reason)
	}
	if r.Followup != nil && r.Followup.Reason != "" {
		reasons = append(reasons, "followup: "+r.Followup.Reason)
	}
	return strings.Join(reasons, "; ")
}

// ── proof ────────────────────────────────────────────────────────────────────

var proofCmd = &cobra.Command{
	Use:   "proof <record-id>",
	Short: "Print the proof certificate data of a committed record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.Proof(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("%s has not been committed", args[0])
			}
			return fmt.Errorf("proof: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(p)
		}
		fmt.Printf("Record:      %s (%s)\n", p.RecordID, p.RecordType)
		fmt.Printf("Status:      %s\n", p.Status)
		fmt.Printf("Digest:      %s\n", p.DigestHex)
		fmt.Printf("Chain:       %s\n", p.ChainName)
		fmt.Printf("Ledger ref:  %s\n", p.LedgerRef)
		fmt.Printf("Committed:   %s\n", p.CommittedAt.Format(time.RFC3339))
		if p.FollowupDigestHex != "" {
			fmt.Printf("Followup:    %s\n", p.FollowupDigestHex)
			fmt.Printf("Followup ref: %s\n", p.FollowupLedgerRef)
		}
		return nil
	},
}

// ── preview ──────────────────────────────────────────────────────────────────

var previewCmd = &cobra.Command{
	Use:   "preview <LOAN|IDENTITY> <record-id>",
	Short: "Show the canonical form and digest a record would be committed with",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := digest.ParseRecordType(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.Preview(cmd.Context(), args[1], string(rt))
		if err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(p)
		}
		fmt.Printf("Digest:    %s\n", p.DigestHex)
		fmt.Printf("Canonical: %s\n", p.Canonical)
		return nil
	},
}

// ── digest (offline) ─────────────────────────────────────────────────────────

var (
	digestType     string
	digestFollowup bool
)

var digestCmd = &cobra.Command{
	Use:   "digest <file.json|->",
	Short: "Compute a record digest locally from a JSON document",
	Long: `digest computes the digest of a record document without contacting the
service, using the same field mapping as the system-of-record reader. Use it
to check a record exported from the database against a proof certificate.

  integrityctl digest --type LOAN loan.json
  integrityctl digest --followup loan.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw []byte
		var err error
		if args[0] == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		doc, err := sor.DecodeDocument(raw)
		if err != nil {
			return err
		}

		var (
			canonical []byte
			d         digest.Digest
		)
		if digestFollowup {
			fields := sor.CanonicalizeFollowup(doc)
			if canonical, err = digest.CanonicalFollowup(fields); err == nil {
				d, err = digest.ComputeFollowup(fields)
			}
		} else {
			rt, perr := digest.ParseRecordType(digestType)
			if perr != nil {
				return perr
			}
			fields := sor.Canonicalize(rt, doc)
			if canonical, err = digest.Canonical(rt, fields); err == nil {
				d, err = digest.Compute(rt, fields)
			}
		}
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return printJSON(map[string]string{"digest_hex": d.Hex(), "canonical": string(canonical)})
		}
		fmt.Println(d.Hex())
		return nil
	},
}

func init() {
	digestCmd.Flags().StringVar(&digestType, "type", "LOAN", "record type: LOAN or IDENTITY")
	digestCmd.Flags().BoolVar(&digestFollowup, "followup", false, "compute the repayment followup digest of a loan")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret   string
	tokenOperator string
	tokenIssuer   string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator token for the commit endpoints",
	Long: `token signs an admin token with the service's admin secret. The secret is
read from --secret or INTEGRITY_ADMIN_SECRET. Store the printed token as
'token' in ~/.integrity/config.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("admin_secret")
		}
		if tokenOperator == "" {
			return errors.New("--operator is required")
		}
		issuer, err := identity.NewAdminTokenIssuer(secret, tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(tokenOperator, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "admin secret shared with integrityd")
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator name recorded in the audit log")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "artha-integrity", "token issuer; must match server.admin_issuer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "token lifetime")
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var (
	auditRecordID string
	auditAction   string
	auditLimit    int
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.AuditEntries(cmd.Context(), client.AuditQuery{
			RecordID: auditRecordID,
			Action:   auditAction,
			Limit:    auditLimit,
		})
		if err != nil {
			return fmt.Errorf("list audit entries: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(entries)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTIME\tACTION\tRECORD\tACTOR\tOUTCOME")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Index, e.Timestamp.Format(time.RFC3339), e.Action, e.RecordID, e.Actor, e.Outcome)
		}
		return w.Flush()
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the hash chain of the audit trail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.AuditVerify(cmd.Context())
		if err != nil {
			return fmt.Errorf("verify audit trail: %w", err)
		}
		if outputFormat == "json" {
			if err := printJSON(res); err != nil {
				return err
			}
		}
		if !res.Valid {
			return fmt.Errorf("audit trail is broken: %s", res.Error)
		}
		if outputFormat != "json" {
			fmt.Println("✓ audit trail intact")
		}
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditRecordID, "record", "", "only entries for this record id")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "only entries with this action (commit, followup, commit_failed, verify, proof)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries to return")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

// ── ledger ───────────────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Browse the public ledger streams",
}

var (
	ledgerStream string
	ledgerLimit  int
	ledgerOffset int
)

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries of a stream, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		page, err := c.LedgerEntries(cmd.Context(), ledgerStream, ledgerLimit, ledgerOffset)
		if err != nil {
			return fmt.Errorf("list ledger entries: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(page)
		}
		fmt.Printf("%s: %d entries\n", page.Stream, page.Total)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REF\tKEY\tKIND\tCONFIRMATIONS")
		for _, e := range page.Entries {
			kind := "-"
			if e.Envelope != nil {
				kind = e.Envelope.Kind
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.Ref, e.Key, kind, e.Confirmations)
		}
		return w.Flush()
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Show one ledger entry with its confirmations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.LedgerEntry(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("show ledger entry: %w", err)
		}
		return printJSON(e)
	},
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show item totals per ledger stream",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		stats, err := c.LedgerStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("ledger stats: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(stats)
		}
		fmt.Printf("Chain:      %s\n", stats.Chain)
		fmt.Printf("Loans:      %d\n", stats.Loans)
		fmt.Printf("Repayments: %d (%.2f%%)\n", stats.Repayments, stats.RepaymentRatePercentage)
		fmt.Printf("Identities: %d\n", stats.Identities)
		return nil
	},
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerStream, "stream", "loan", "stream to list (loan, repayment, identity)")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 20, "maximum entries to return")
	ledgerListCmd.Flags().IntVar(&ledgerOffset, "offset", 0, "entries to skip from the newest")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerStatsCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the integrityctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("integrityctl %s (digest schema %s)\n", version, digest.SchemaVersion)
	},
}
