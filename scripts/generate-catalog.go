//go:build ignore

// Package main generates a synthetic product catalog and knowledge items
// for load-testing ingestion and search.
// Usage: go run scripts/generate-catalog.go -products 100000 -output testdata/bench
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
)

var (
	numProducts = flag.Int("products", 10000, "Number of products to generate")
	perProduct  = flag.Int("knowledge", 2, "Knowledge items per product (on average)")
	outputDir   = flag.String("output", "testdata/bench", "Output directory")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var categories = map[string][]string{
	"Electronics": {"wireless headphones", "bluetooth speaker", "usb-c charger", "mechanical keyboard", "4k monitor", "noise cancelling earbuds"},
	"Kitchen":     {"burr coffee grinder", "pour-over kettle", "cast iron skillet", "chef knife", "espresso machine", "french press"},
	"Office":      {"ergonomic chair", "standing desk", "desk lamp", "notebook set", "monitor arm", "cable organizer"},
	"Outdoors":    {"camping tent", "hiking backpack", "water bottle", "trail shoes", "sleeping bag", "headlamp"},
}

var adjectives = []string{"premium", "compact", "portable", "durable", "lightweight", "waterproof", "stainless steel", "rechargeable"}

var knowledgeTemplates = []struct {
	contentType string
	personas    []string
	severity    string
	text        string
}{
	{"product_faq", []string{"customer"}, "", "The %s carries a two year warranty and ships within two business days."},
	{"product_faq", []string{"customer"}, "", "To clean the %s, wipe it with a dry cloth; do not submerge it."},
	{"support_note", []string{"support_agent"}, "medium", "Customers report the %s arriving with missing parts; offer a replacement kit."},
	{"internal_note", []string{"product_manager"}, "high", "Return rate for the %s is above target this quarter; supplier review pending."},
	{"analytics", []string{"product_manager"}, "low", "Search volume for %s doubled during the holiday gift season."},
}

type knowledgeRecord struct {
	Kind          string   `json:"kind"`
	ID            string   `json:"id"`
	Content       string   `json:"content"`
	ContentType   string   `json:"content_type"`
	DocumentID    string   `json:"document_id,omitempty"`
	PersonaAccess []string `json:"persona_access"`
	Severity      string   `json:"severity,omitempty"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output dir: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}

	products, err := os.Create(filepath.Join(*outputDir, "products.csv"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating products.csv: %v\n", err)
		os.Exit(1)
	}
	defer products.Close()
	knowledge, err := os.Create(filepath.Join(*outputDir, "knowledge.jsonl"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating knowledge.jsonl: %v\n", err)
		os.Exit(1)
	}
	defer knowledge.Close()

	w := csv.NewWriter(products)
	_ = w.Write([]string{"ProductID", "Product_Description", "imgUrl", "productURL", "stars", "reviews",
		"price", "category_id", "isBestSeller", "boughtInLastMonth", "category_name", "quantity"})
	enc := json.NewEncoder(knowledge)

	items := 0
	for i := 0; i < *numProducts; i++ {
		category := names[rng.Intn(len(names))]
		things := categories[category]
		thing := things[rng.Intn(len(things))]
		id := fmt.Sprintf("BENCH%07d", i)
		desc := fmt.Sprintf("%s %s %s", adjectives[rng.Intn(len(adjectives))], thing, id[len(id)-3:])

		_ = w.Write([]string{
			id, desc,
			"https://example.com/img/" + id + ".jpg",
			"https://example.com/p/" + id,
			strconv.FormatFloat(1+rng.Float64()*4, 'f', 1, 64),
			strconv.Itoa(rng.Intn(5000)),
			strconv.FormatFloat(5+rng.Float64()*300, 'f', 2, 64),
			strconv.Itoa(rng.Intn(50)),
			strconv.FormatBool(rng.Intn(10) == 0),
			strconv.Itoa(rng.Intn(1000)),
			category,
			"0",
		})

		for j := 0; j < rng.Intn(2**perProduct+1); j++ {
			tmpl := knowledgeTemplates[rng.Intn(len(knowledgeTemplates))]
			rec := knowledgeRecord{
				Kind:          "knowledge",
				ID:            fmt.Sprintf("%s-k%d", id, j),
				Content:       fmt.Sprintf(tmpl.text, thing),
				ContentType:   tmpl.contentType,
				DocumentID:    id,
				PersonaAccess: tmpl.personas,
				Severity:      tmpl.severity,
			}
			if err := enc.Encode(rec); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing knowledge: %v\n", err)
				os.Exit(1)
			}
			items++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing products: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d products and %d knowledge items in %s\n", *numProducts, items, *outputDir)
	fmt.Printf("Ingest with: hybridrag ingest %s/products.csv && hybridrag ingest %s/knowledge.jsonl\n", *outputDir, *outputDir)
}
