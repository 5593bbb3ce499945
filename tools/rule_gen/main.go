// contentrex/tools/rule_gen/main.go

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/invopop/jsonschema"

	"rgehrsitz/contentrex/pkg/compiler"
)

var resourceTypes = []string{
	"document", "image", "style-sheet", "script", "font",
	"raw", "svg-document", "media", "popup",
}

var loadTypes = []string{"first-party", "third-party"}

var fileExtensions = []string{"js", "png", "gif", "css", "json", "woff"}

type options struct {
	rules  int
	output string
	seed   uint64
	schema bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := flag.NewFlagSet("rule_gen", flag.ContinueOnError)
	flags.IntVar(&opts.rules, "rules", 1000, "Number of rules to generate")
	flags.StringVar(&opts.output, "output", "generated_rules.json", "Output file name")
	flags.Uint64Var(&opts.seed, "seed", 0, "Random seed, 0 picks one from the clock")
	flags.BoolVar(&opts.schema, "schema", false, "Write the JSON schema of the rule list format instead of rules")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if opts.rules < 0 || opts.rules > compiler.MaxRuleCount {
		return options{}, fmt.Errorf("rules must be between 0 and %d", compiler.MaxRuleCount)
	}
	return opts, nil
}

// identifier turns a fake word into something usable in a pattern, a domain
// or a selector.
func identifier(word string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(word) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "ads"
	}
	return b.String()
}

func domain(faker *gofakeit.Faker) string {
	return identifier(faker.Word()) + "." + faker.RandomString([]string{"com", "net", "org", "io", "co.uk"})
}

func escapeDomain(d string) string {
	return strings.ReplaceAll(d, ".", `\.`)
}

// generateURLFilter returns a pattern the compiler accepts. Filters never
// contain an interior ".*": each one doubles the states of the combined DFA.
func generateURLFilter(faker *gofakeit.Faker) string {
	host := `^https?://([^/]+\.)?`
	switch faker.Number(0, 4) {
	case 0:
		return host + escapeDomain(domain(faker)) + "/"
	case 1:
		return "/" + identifier(faker.Word()) + "/"
	case 2:
		return host + escapeDomain(domain(faker)) + "/" + identifier(faker.Word()) + `\.` + faker.RandomString(fileExtensions) + "$"
	case 3:
		return identifier(faker.Word()) + "[0-9]+x[0-9]+"
	default:
		return `[?&]` + identifier(faker.Word()) + "="
	}
}

func generateTrigger(faker *gofakeit.Faker) compiler.JSONTrigger {
	trigger := compiler.JSONTrigger{
		URLFilter:                generateURLFilter(faker),
		URLFilterIsCaseSensitive: faker.Number(1, 100) <= 10,
	}

	if faker.Number(1, 100) <= 30 {
		for _, name := range resourceTypes {
			if faker.Number(1, 100) <= 25 {
				trigger.ResourceType = append(trigger.ResourceType, name)
			}
		}
	}
	if faker.Number(1, 100) <= 20 {
		trigger.LoadType = []string{faker.RandomString(loadTypes)}
	}

	if faker.Number(1, 100) <= 15 {
		domains := make([]string, faker.Number(1, 3))
		for i := range domains {
			domains[i] = domain(faker)
			if faker.Bool() {
				domains[i] = "*" + domains[i]
			}
		}
		if faker.Bool() {
			trigger.IfDomain = domains
		} else {
			trigger.UnlessDomain = domains
		}
	}
	return trigger
}

func generateAction(faker *gofakeit.Faker) compiler.JSONAction {
	roll := faker.Number(1, 100)
	switch {
	case roll <= 50:
		return compiler.JSONAction{Type: "block"}
	case roll <= 75:
		prefix := faker.RandomString([]string{".", "#"})
		return compiler.JSONAction{Type: "css-display-none", Selector: prefix + identifier(faker.Word())}
	case roll <= 85:
		return compiler.JSONAction{Type: "block-cookies"}
	case roll <= 90:
		return compiler.JSONAction{Type: "make-https"}
	}
	return compiler.JSONAction{Type: "ignore-previous-rules"}
}

func generateRule(faker *gofakeit.Faker, index int) compiler.JSONRule {
	// A few universal rules exercise the matches-everything path.
	if index%50 == 49 {
		return compiler.JSONRule{
			Trigger: compiler.JSONTrigger{URLFilter: ".*"},
			Action:  generateAction(faker),
		}
	}
	return compiler.JSONRule{Trigger: generateTrigger(faker), Action: generateAction(faker)}
}

func generateRuleList(faker *gofakeit.Faker, numRules int) []compiler.JSONRule {
	rules := make([]compiler.JSONRule, numRules)
	for i := range rules {
		rules[i] = generateRule(faker, i)
	}
	return rules
}

func ruleListSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	schema := r.Reflect(&[]compiler.JSONRule{})
	schema.Title = "Content blocker rule list"
	return json.MarshalIndent(schema, "", "  ")
}

func writeRuleListToFile(rules []compiler.JSONRule, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(rules)
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if opts.schema {
		data, err := ruleListSchema()
		if err == nil {
			err = os.WriteFile(opts.output, data, 0644)
		}
		if err != nil {
			fmt.Printf("Error writing schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Saved rule list schema to %s\n", opts.output)
		return
	}

	if opts.seed == 0 {
		opts.seed = uint64(time.Now().UnixNano())
	}
	rules := generateRuleList(gofakeit.New(opts.seed), opts.rules)

	if err := writeRuleListToFile(rules, opts.output); err != nil {
		fmt.Printf("Error writing rule list: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d rules with seed %d. Saved to %s\n", opts.rules, opts.seed, opts.output)
}
