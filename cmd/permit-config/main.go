package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
	"github.com/oarkflow/permit/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "seed":
		handleSeed()
	case "apply":
		handleApply()
	case "can":
		handleCan()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permit-config - Configuration tool for permit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permit-config convert <input> <output>                   - Convert between YAML and JSON")
	fmt.Println("  permit-config validate <file>                            - Validate configuration")
	fmt.Println("  permit-config stats <file>                               - Show configuration statistics")
	fmt.Println("  permit-config seed <db>                                  - Create the default baseline")
	fmt.Println("  permit-config apply <file> <db>                          - Apply configuration to a database")
	fmt.Println("  permit-config can <db> <user-id> <action> <resource> [k=v ...] - Explain a decision")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json. Databases are sqlite files.")
}

func fail(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func handleConvert() {
	if len(os.Args) < 4 {
		fail("Usage: permit-config convert <input> <output>")
	}
	inputFile, outputFile := os.Args[2], os.Args[3]
	cfg, err := permit.NewConfigLoader().LoadFile(inputFile)
	if err != nil {
		fail("Error loading config: %v", err)
	}
	var data []byte
	switch strings.ToLower(filepath.Ext(outputFile)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		fail("unsupported file format: %s", filepath.Ext(outputFile))
	}
	if err != nil {
		fail("Error encoding config: %v", err)
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		fail("Error saving config: %v", err)
	}
	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fail("Usage: permit-config validate <file>")
	}
	cfg, err := permit.NewConfigLoader().LoadFile(os.Args[2])
	if err != nil {
		fail("Invalid configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fail("Invalid configuration:\n%v", err)
	}
	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Resources: %d\n", len(cfg.Resources))
	fmt.Printf("  Actions: %d\n", len(cfg.Actions))
	fmt.Printf("  Roles: %d\n", len(cfg.Roles))
	fmt.Printf("  Policies: %d\n", len(cfg.Policies))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Printf("  Scopes: %d\n", len(cfg.Scopes))
}

func handleStats() {
	if len(os.Args) < 3 {
		fail("Usage: permit-config stats <file>")
	}
	filename := os.Args[2]
	cfg, err := permit.NewConfigLoader().LoadFile(filename)
	if err != nil {
		fail("Error loading config: %v", err)
	}

	stat, _ := os.Stat(filename)
	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	if len(cfg.Policies) > 0 {
		allowCount, denyCount := 0, 0
		kinds := map[permit.ConditionKind]int{}
		for _, p := range cfg.Policies {
			if p.Effect == permit.EffectDeny {
				denyCount++
			} else {
				allowCount++
			}
			kind := p.Condition
			if kind == "" {
				kind = permit.CondNone
			}
			kinds[kind]++
		}
		fmt.Println("Policy Details:")
		fmt.Printf("  Allow policies: %d\n", allowCount)
		fmt.Printf("  Deny policies:  %d\n", denyCount)
		for _, k := range permit.ConditionKinds {
			if n := kinds[k]; n > 0 {
				fmt.Printf("  %-22s %d\n", string(k)+":", n)
			}
		}
		fmt.Println()
	}

	users, groups := 0, 0
	for _, a := range cfg.Assignments {
		if a.UserID > 0 {
			users++
		}
		if a.GroupID > 0 {
			groups++
		}
	}
	fmt.Println("Assignments:")
	fmt.Printf("  To users:  %d\n", users)
	fmt.Printf("  To groups: %d\n", groups)
	fmt.Println()

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Index TTL:             %dms\n", cfg.Engine.IndexTTLMs)
	fmt.Printf("  Ristretto counters:    %d\n", cfg.Engine.RistrettoNumCounter)
	fmt.Printf("  Ristretto max cost:    %d\n", cfg.Engine.RistrettoMaxCost)
	fmt.Printf("  Ristretto buffer:      %d\n", cfg.Engine.RistrettoBuffer)
}

func openStore(path string) *stores.SQLStore {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		fail("Error opening database: %v", err)
	}
	db := squealx.NewDb(sqlDB, "sqlite", "permit")
	if err := stores.Migrate(db); err != nil {
		fail("Error migrating database: %v", err)
	}
	return stores.NewSQLStore(db)
}

func newAdmin(store permit.Store) *permit.Admin {
	admin, err := permit.NewAdmin(store, permit.WithAdminLogger(logger.NewPhusluLogger()))
	if err != nil {
		fail("Error creating admin: %v", err)
	}
	return admin
}

func handleSeed() {
	if len(os.Args) < 3 {
		fail("Usage: permit-config seed <db>")
	}
	store := openStore(os.Args[2])
	rep, err := permit.Seed(context.Background(), newAdmin(store), permit.DefaultBaseline())
	if err != nil {
		fail("Error seeding: %v", err)
	}
	fmt.Printf("Baseline seeded: %d created, %d already present\n", rep.Created, rep.Existing)
}

func handleApply() {
	if len(os.Args) < 4 {
		fail("Usage: permit-config apply <file> <db>")
	}
	cfg, err := permit.NewConfigLoader().LoadFile(os.Args[2])
	if err != nil {
		fail("Error loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fail("Invalid configuration:\n%v", err)
	}
	store := openStore(os.Args[3])
	rep, err := permit.ApplyConfig(context.Background(), newAdmin(store), cfg)
	if err != nil {
		fail("Error applying config: %v", err)
	}
	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Baseline created: %d (existing %d)\n", rep.Seed.Created, rep.Seed.Existing)
	fmt.Printf("  Records created:  %d\n", rep.Created)
	fmt.Printf("  Records updated:  %d\n", rep.Updated)
}

// handleCan explains one decision. Extra arguments of the form key=value
// become object attributes; integers are passed as numbers.
func handleCan() {
	if len(os.Args) < 6 {
		fail("Usage: permit-config can <db> <user-id> <action> <resource> [key=value ...]")
	}
	store := openStore(os.Args[2])
	userID, err := strconv.ParseInt(os.Args[3], 10, 64)
	if err != nil {
		fail("Invalid user id %q: %v", os.Args[3], err)
	}
	obj := permit.Attrs{}
	for _, kv := range os.Args[6:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			fail("Invalid attribute %q, expected key=value", kv)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			obj[k] = n
		} else {
			obj[k] = v
		}
	}

	eng, err := permit.NewEngine(store,
		permit.WithLogger(logger.NewPhusluLogger()),
		permit.WithGroupProvider(stores.NewSQLGroupMembership(store.DB())),
	)
	if err != nil {
		fail("Error creating engine: %v", err)
	}
	defer eng.Close()
	d := eng.Explain(context.Background(), &permit.Subject{ID: userID}, os.Args[4], os.Args[5], permit.WithObject(obj))
	for _, line := range d.Trace {
		fmt.Println("  " + line)
	}
	verdict := "DENY"
	if d.Allowed {
		verdict = "ALLOW"
	}
	fmt.Printf("%s (%s) %s\n", verdict, d.Reason, d.MatchedBy)
}
