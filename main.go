// Command core is the analyzer CLI: capture a build description, run the
// analyzer over it, validate the resulting certificates, and diff/explain
// the outcome. Each step is its own subcommand dispatched with a stdlib
// flag.FlagSet, the same plain-flag idiom the teacher's single-command
// main.go used rather than a cobra-style framework.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sappp/core/pkg/analyzer"
	"github.com/sappp/core/pkg/certstore"
	"github.com/sappp/core/pkg/config"
	"github.com/sappp/core/pkg/diff"
	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/explain"
	"github.com/sappp/core/pkg/firestoremirror"
	"github.com/sappp/core/pkg/ledger"
	"github.com/sappp/core/pkg/logging"
	"github.com/sappp/core/pkg/manifest"
	"github.com/sappp/core/pkg/metrics"
	"github.com/sappp/core/pkg/nir"
	"github.com/sappp/core/pkg/po"
	"github.com/sappp/core/pkg/rundb"
	"github.com/sappp/core/pkg/schema"
	"github.com/sappp/core/pkg/specdb"
	"github.com/sappp/core/pkg/verification"
	"github.com/sappp/core/pkg/version"
)

const (
	exitOK            = 0
	exitUsage         = 1
	exitSchemaInvalid = 2
	exitSoundness     = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	switch args[0] {
	case "capture":
		return runCapture(args[1:])
	case "analyze":
		return runAnalyze(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "pack":
		fmt.Fprintln(os.Stderr, "pack: out of scope for this core; use reproducibility-packaging tooling")
		return exitUsage
	case "diff":
		return runDiff(args[1:])
	case "explain":
		return runExplain(args[1:])
	case "version":
		fmt.Printf("core %s (semantics=%s proof_system=%s profile=%s)\n",
			version.ToolVersion, version.SemanticsVersion, version.ProofSystemVersion, version.ProfileVersion)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: core <capture|analyze|validate|pack|diff|explain|version> [flags]")
}

// exitForError maps an errkind.Kind to one of the three failure exit codes
// §6 reserves: usage errors are caught by flag parsing itself, so every
// error reaching here is either a schema/IO problem (2) or a soundness-
// critical failure (3).
func exitForError(err error) int {
	switch errkind.KindOf(err) {
	case errkind.KindSchemaInvalid, errkind.KindSchemaVersion, errkind.KindIO, errkind.KindInvalidPoList:
		return exitSchemaInvalid
	default:
		return exitSoundness
	}
}

func reportErr(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitForError(err)
}

func readJSONFile(path string, v any) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "read %s", path)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, errkind.Wrap(errkind.KindSchemaInvalid, err, "parse %s", path)
	}
	return raw, nil
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errkind.Wrap(errkind.KindIO, err, "create directory for %s", path)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.KindInternal, err, "marshal %s", path)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errkind.Wrap(errkind.KindIO, err, "write %s", path)
	}
	return nil
}

func hashFileHex(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errkind.Wrap(errkind.KindIO, err, "hash %s", path)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ---------------------------------------------------------------- capture

type compileCommandIn struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments,omitempty"`
	Command   string   `json:"command,omitempty"`
}

type compileCommandOut struct {
	File      string   `json:"file"`
	Directory string   `json:"directory"`
	Arguments []string `json:"arguments"`
}

type buildSnapshotDoc struct {
	SchemaVersion   string              `json:"schema_version"`
	RepoRoot        string              `json:"repo_root"`
	CompileCommands []compileCommandOut `json:"compile_commands"`
}

func runCapture(args []string) int {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	compileCommands := fs.String("compile-commands", "", "path to compile_commands.json")
	out := fs.String("out", "", "output directory")
	repoRoot := fs.String("repo-root", "", "repository root (defaults to the working directory)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *compileCommands == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "capture: --compile-commands and --out are required")
		return exitUsage
	}
	root := *repoRoot
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}

	var in []compileCommandIn
	if _, err := readJSONFile(*compileCommands, &in); err != nil {
		return reportErr(err)
	}

	cmds := make([]compileCommandOut, 0, len(in))
	for _, c := range in {
		args := c.Arguments
		if len(args) == 0 && c.Command != "" {
			args = strings.Fields(c.Command)
		}
		cmds = append(cmds, compileCommandOut{File: c.File, Directory: c.Directory, Arguments: args})
	}

	doc := buildSnapshotDoc{SchemaVersion: "build_snapshot.v1", RepoRoot: root, CompileCommands: cmds}

	gate, err := schema.NewGate()
	if err != nil {
		return reportErr(err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return reportErr(errkind.Wrap(errkind.KindInternal, err, "marshal build_snapshot"))
	}
	if err := gate.Validate(raw, "build_snapshot.v1.json"); err != nil {
		return reportErr(err)
	}

	if err := writeJSONFile(filepath.Join(*out, "build_snapshot.json"), doc); err != nil {
		return reportErr(err)
	}
	fmt.Printf("captured %d compile units to %s\n", len(cmds), filepath.Join(*out, "build_snapshot.json"))
	return exitOK
}

// ----------------------------------------------------------------- analyze

// nirSidecarPath is the pluggable frontend's delivery contract this core
// assumes: a NIR document for compile unit <file> lives alongside it at
// <file>.nir.json. Frontend source-to-NIR extraction itself stays external
// per §1's non-goals; this is only where the core looks for its output.
func nirSidecarPath(file string) string {
	return file + ".nir.json"
}

func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	build := fs.String("build", "", "path to build_snapshot.json")
	out := fs.String("out", "", "output directory")
	jobs := fs.Int("jobs", 0, "override the worker pool size (0 keeps the config file/default)")
	configPath := fs.String("config", "", "path to an analysis_config.v1 document")
	specDir := fs.String("spec-dir", "", "directory of SpecDB sidecar contract files")
	logLevel := fs.String("log-level", "info", "debug|info|warn|error")
	rundbDSN := fs.String("rundb-dsn", "", "optional Postgres DSN for a run-audit sink")
	metricsAddr := fs.String("metrics-addr", "", "optional address to expose Prometheus metrics on")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *build == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "analyze: --build and --out are required")
		return exitUsage
	}

	log := logging.New("analyze", logging.ParseLevel(*logLevel))
	reg := metrics.New()
	if *metricsAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := reg.Serve(ctx, *metricsAddr); err != nil {
				log.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			return reportErr(err)
		}
		cfg = loaded
	}
	cfg = config.ApplyEnv(cfg)
	if *jobs > 0 {
		cfg.Jobs = *jobs
	}

	gate, err := schema.NewGate()
	if err != nil {
		return reportErr(err)
	}

	var snapshot buildSnapshotDoc
	rawSnapshot, err := readJSONFile(*build, &snapshot)
	if err != nil {
		return reportErr(err)
	}
	if err := gate.Validate(rawSnapshot, "build_snapshot.v1.json"); err != nil {
		return reportErr(err)
	}

	contracts := []specdb.Contract(nil)
	if *specDir != "" {
		var compileUnitFiles []string
		for _, cc := range snapshot.CompileCommands {
			compileUnitFiles = append(compileUnitFiles, resolveUnitPath(snapshot.RepoRoot, cc))
		}
		snap, err := specdb.Build(*specDir, compileUnitFiles, "core", time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return reportErr(err)
		}
		contracts = snap.Contracts
	}

	store, err := certstore.Open(filepath.Join(*out, "certstore"), gate)
	if err != nil {
		return reportErr(err)
	}

	var allPOs []po.PO
	var allCertIndex []analyzer.IndexEntry
	var allUnknown []ledger.Record
	ctx := context.Background()

	for _, cc := range snapshot.CompileCommands {
		unitPath := resolveUnitPath(snapshot.RepoRoot, cc)
		sidecar := nirSidecarPath(unitPath)
		rawNir, err := os.ReadFile(sidecar)
		if err != nil {
			log.Warnf("no NIR sidecar for %s (looked for %s), skipping", cc.File, sidecar)
			continue
		}
		if err := gate.Validate(rawNir, "nir.v1.json"); err != nil {
			return reportErr(err)
		}
		var tuDoc nir.Nir
		if err := json.Unmarshal(rawNir, &tuDoc); err != nil {
			return reportErr(errkind.Wrap(errkind.KindSchemaInvalid, err, "decode NIR sidecar %s", sidecar))
		}
		versions := tuDoc.Versions()

		contentHash, err := hashFileHex(unitPath)
		if err != nil {
			return reportErr(err)
		}
		repoRelative := cc.File

		identities := make(po.FunctionIdentities, len(tuDoc.Functions))
		for _, fn := range tuDoc.Functions {
			identities[fn.FunctionUID] = struct {
				Repo     po.RepoIdentity
				Function po.FunctionRef
			}{
				Repo:     po.RepoIdentity{Path: repoRelative, ContentSHA256: contentHash},
				Function: po.FunctionRef{USR: fn.FunctionUID, Mangled: fn.MangledName},
			}
		}

		pos, err := po.Enumerate(&tuDoc, identities, versions)
		if err != nil {
			return reportErr(err)
		}
		allPOs = append(allPOs, pos...)

		outcome, err := analyzer.Analyze(ctx, &tuDoc, identities, contracts, store, analyzer.Config{
			Jobs:          cfg.Jobs,
			MaxIterations: cfg.MaxIterations,
			MatchContext:  cfg.MatchContext,
			Versions:      versions,
		})
		if err != nil {
			return reportErr(err)
		}
		allCertIndex = append(allCertIndex, outcome.CertIndex...)
		allUnknown = append(allUnknown, outcome.Unknown.Records...)
		for range outcome.Unknown.Records {
			reg.RecordCategory("UNKNOWN")
		}
	}

	sort.Slice(allPOs, func(i, j int) bool { return allPOs[i].PoID < allPOs[j].PoID })
	poListDoc := struct {
		SchemaVersion string  `json:"schema_version"`
		Pos           []po.PO `json:"pos"`
	}{SchemaVersion: "po_list.v1", Pos: allPOs}
	if rawPoList, err := json.Marshal(poListDoc); err != nil {
		return reportErr(errkind.Wrap(errkind.KindInternal, err, "marshal po_list"))
	} else if err := gate.Validate(rawPoList, "po_list.v1.json"); err != nil {
		return reportErr(err)
	}
	poListPath := filepath.Join(*out, "po", "po_list.json")
	if err := writeJSONFile(poListPath, poListDoc); err != nil {
		return reportErr(err)
	}

	unknownLedger := ledger.Build(allUnknown)
	if rawUnknown, err := json.Marshal(unknownLedger); err != nil {
		return reportErr(errkind.Wrap(errkind.KindInternal, err, "marshal unknown ledger"))
	} else if err := gate.Validate(rawUnknown, "unknown.v1.json"); err != nil {
		return reportErr(err)
	}
	unknownPath := filepath.Join(*out, "analyzer", "unknown_ledger.json")
	if err := writeJSONFile(unknownPath, unknownLedger); err != nil {
		return reportErr(err)
	}

	artifacts := []manifest.Artifact{}
	for _, p := range []string{poListPath, unknownPath} {
		h, err := hashFileHex(p)
		if err != nil {
			return reportErr(err)
		}
		artifacts = append(artifacts, manifest.Artifact{Path: p, Hash: h})
	}
	runManifest, err := manifest.Build(time.Now().UTC().Format(time.RFC3339), artifacts)
	if err != nil {
		return reportErr(err)
	}
	if err := writeJSONFile(filepath.Join(*out, "pack_manifest.json"), runManifest); err != nil {
		return reportErr(err)
	}

	if *rundbDSN != "" {
		client, err := rundb.NewClient(*rundbDSN, rundb.WithLogger(log.Sub("rundb")))
		if err != nil {
			log.Warnf("rundb unavailable, continuing without audit sink: %v", err)
		} else {
			defer client.Close()
			if _, err := client.RecordRun(ctx, rundb.RunRecord{
				Command:      "analyze",
				OutputDigest: runManifest.Digest,
				UnknownCount: len(unknownLedger.Records),
				StartedAt:    time.Now(),
				FinishedAt:   time.Now(),
			}); err != nil {
				log.Warnf("failed to record run audit: %v", err)
			}
		}
	}

	fmt.Printf("analyzed %d POs, %d certified, %d UNKNOWN, digest %s\n",
		len(allPOs), len(allCertIndex), len(unknownLedger.Records), runManifest.Digest)
	return exitOK
}

func resolveUnitPath(repoRoot string, cc compileCommandOut) string {
	if filepath.IsAbs(cc.File) {
		return cc.File
	}
	base := cc.Directory
	if base == "" {
		base = repoRoot
	}
	return filepath.Join(base, cc.File)
}

// ----------------------------------------------------------------- validate

type validatedResultsDoc struct {
	SchemaVersion string                `json:"schema_version"`
	Results       []verification.Result `json:"results"`
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	in := fs.String("in", "", "run output directory (as produced by analyze)")
	out := fs.String("out", "", "validated_results.json path (defaults to <in>/results/validated_results.json)")
	strict := fs.Bool("strict", false, "abort on the first soundness-critical failure instead of downgrading to UNKNOWN")
	schemaDir := fs.String("schema-dir", "", "override the embedded schema set with one loaded from this directory")
	mirror := fs.Bool("mirror", false, "optionally mirror validated results to Firestore")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *in == "" {
		fmt.Fprintln(os.Stderr, "validate: --in is required")
		return exitUsage
	}
	outPath := *out
	if outPath == "" {
		outPath = filepath.Join(*in, "results", "validated_results.json")
	}

	var gate *schema.Gate
	var err error
	if *schemaDir != "" {
		gate, err = schema.NewGateFromDir(*schemaDir)
	} else {
		gate, err = schema.NewGate()
	}
	if err != nil {
		return reportErr(err)
	}

	store, err := certstore.Open(filepath.Join(*in, "certstore"), gate)
	if err != nil {
		return reportErr(err)
	}

	results, err := verification.Verify(store, verification.Config{Strict: *strict, Current: version.Current()})
	if err != nil {
		return reportErr(err)
	}

	doc := validatedResultsDoc{SchemaVersion: "validated_results.v1", Results: results}
	if err := writeJSONFile(outPath, doc); err != nil {
		return reportErr(err)
	}

	if *mirror {
		ctx := context.Background()
		m, err := firestoremirror.New(ctx, firestoremirror.DefaultConfig())
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: firestore mirror unavailable: %v\n", err)
		} else {
			records := make([]firestoremirror.ValidatedResultRecord, 0, len(results))
			for _, r := range results {
				records = append(records, firestoremirror.ValidatedResultRecord{
					PoID: r.PoID, Category: string(r.Category),
					CertificateRoot: r.CertificateRoot, ValidatorStatus: string(r.ValidatorStatus),
				})
			}
			if err := m.MirrorValidatedResults(ctx, records); err != nil {
				fmt.Fprintf(os.Stderr, "warning: firestore mirror failed: %v\n", err)
			}
		}
	}

	fmt.Printf("validated %d POs, wrote %s\n", len(results), outPath)
	return exitOK
}

// ---------------------------------------------------------------------- diff

func runDiff(args []string) int {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	before := fs.String("before", "", "path to the earlier validated_results.json")
	after := fs.String("after", "", "path to the later validated_results.json")
	out := fs.String("out", "", "output diff.json path")
	reason := fs.String("reason", "", "optional reason attached to every change")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *before == "" || *after == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "diff: --before, --after, and --out are required")
		return exitUsage
	}

	var beforeDoc, afterDoc validatedResultsDoc
	if _, err := readJSONFile(*before, &beforeDoc); err != nil {
		return reportErr(err)
	}
	if _, err := readJSONFile(*after, &afterDoc); err != nil {
		return reportErr(err)
	}

	doc := diff.Diff(beforeDoc.Results, afterDoc.Results, *reason)

	gate, err := schema.NewGate()
	if err != nil {
		return reportErr(err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return reportErr(errkind.Wrap(errkind.KindInternal, err, "marshal diff"))
	}
	if err := gate.Validate(raw, "diff.v1.json"); err != nil {
		return reportErr(err)
	}

	if err := writeJSONFile(*out, doc); err != nil {
		return reportErr(err)
	}
	fmt.Printf("diffed %d po_ids, wrote %s\n", len(doc.Changes), *out)
	return exitOK
}

// ------------------------------------------------------------------- explain

func runExplain(args []string) int {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	unknownPath := fs.String("unknown", "", "path to unknown_ledger.json")
	validatedPath := fs.String("validated", "", "optional path to validated_results.json")
	poID := fs.String("po-id", "", "restrict to a single po_id")
	unknownID := fs.String("unknown-id", "", "restrict to a single unknown_stable_id")
	out := fs.String("out", "", "output path (required for --format json)")
	format := fs.String("format", "text", "text|json")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *unknownPath == "" {
		fmt.Fprintln(os.Stderr, "explain: --unknown is required")
		return exitUsage
	}
	if *format == string(explain.FormatJSON) && *out == "" {
		fmt.Fprintln(os.Stderr, "explain: --out is required with --format json")
		return exitUsage
	}

	var l ledger.Ledger
	if _, err := readJSONFile(*unknownPath, &l); err != nil {
		return reportErr(err)
	}

	var validated []verification.Result
	if *validatedPath != "" {
		var doc validatedResultsDoc
		if _, err := readJSONFile(*validatedPath, &doc); err != nil {
			return reportErr(err)
		}
		validated = doc.Results
	}

	output := explain.Explain(l, *validatedPath, explain.Options{
		PoID:            *poID,
		UnknownStableID: *unknownID,
		Validated:       validated,
		Format:          explain.Format(*format),
	})

	switch output.Format {
	case explain.FormatJSON:
		if err := writeJSONFile(*out, output.JSON); err != nil {
			return reportErr(err)
		}
	default:
		text := strings.Join(output.Text, "\n") + "\n"
		if *out != "" {
			if err := os.WriteFile(*out, []byte(text), 0o644); err != nil {
				return reportErr(errkind.Wrap(errkind.KindIO, err, "write %s", *out))
			}
		} else {
			fmt.Print(text)
		}
	}
	return exitOK
}
