package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/retriever"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

// DummyJSON-shaped product
type dummyProduct struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Brand       string  `json:"brand"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Rating      float64 `json:"rating"`
	Description string  `json:"description"`
}

type categoryResp struct {
	Products []dummyProduct `json:"products"`
	Total    int            `json:"total"`
}

func byCategory(products []schema.Product) map[string][]dummyProduct {
	out := map[string][]dummyProduct{}
	for i, p := range products {
		cat := strings.ToLower(p.Category)
		out[cat] = append(out[cat], dummyProduct{
			ID:          i + 1,
			Title:       p.Name,
			Brand:       p.Brand,
			Category:    cat,
			Price:       p.Price,
			Rating:      p.Rating,
			Description: p.Description,
		})
	}
	return out
}

func main() {
	addr := ":8083"
	if v := os.Getenv("CATALOG_ADDR"); v != "" {
		addr = v
	}
	path := "data/mock_products.json"
	if v := os.Getenv("CATALOG_PRODUCTS"); v != "" {
		path = v
	}
	products, err := retriever.LoadProducts(path)
	if err != nil {
		log.Fatal(err)
	}
	categories := byCategory(products)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products/category/{name}", func(w http.ResponseWriter, r *http.Request) {
		list := categories[strings.ToLower(r.PathValue("name"))]
		if list == nil {
			list = []dummyProduct{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(categoryResp{Products: list, Total: len(list)})
	})
	log.Printf("Catalog mock listening on %s (%d products)", addr, len(products))
	log.Fatal(http.ListenAndServe(addr, mux))
}
