package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Fires concurrent settlements of one unit each for the same product
// against a running server. Every request carries its own session id, so
// only stock can stop them.
func main() {
	serverURL := flag.String("server", "http://localhost:5000", "storefront base URL")
	productID := flag.Int64("product", 1, "product id to buy")
	totalRequests := flag.Int("requests", 50, "concurrent settlements to fire")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}

	initialStock, err := fetchStock(client, *serverURL, *productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}

	items, _ := domain.EncodeCart([]domain.CartItem{{ProductID: *productID, Quantity: 1}})

	// Counters
	var successCount atomic.Int32
	outcomes := make(map[string]int)
	var mu sync.Mutex

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			target := fmt.Sprintf("%s/success.html?session_id=%s&items=%s",
				*serverURL, "cs_stress_"+uuid.NewString(), url.QueryEscape(items))

			outcome := settle(client, target)
			if outcome == "OK" {
				successCount.Add(1)
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	finalStock, err := fetchStock(client, *serverURL, *productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Product:          %d\n", *productID)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	for outcome, n := range outcomes {
		fmt.Printf("  %-24s %d\n", outcome, n)
	}
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Final Stock:      %d\n", finalStock)
	fmt.Println("==========================================")

	// Assertions
	expected := min(initialStock, *totalRequests)
	if success == expected {
		fmt.Printf("PASS: exactly %d settlements succeeded\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d successes, got %d\n", expected, success)
	}

	if finalStock == initialStock-success && finalStock >= 0 {
		fmt.Println("PASS: stock matches successful settlements")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", initialStock-success, finalStock)
	}
}

// settle returns "OK" or the error code the server answered with.
func settle(client *http.Client, target string) string {
	resp, err := client.Get(target)
	if err != nil {
		return "TRANSPORT_ERROR"
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return "OK"
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}
	return body.Code
}

func fetchStock(client *http.Client, serverURL string, productID int64) (int, error) {
	resp, err := client.Get(serverURL + "/productstest")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var products []domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return 0, err
	}
	for _, p := range products {
		if p.ID == productID {
			return p.Quantity, nil
		}
	}
	return 0, fmt.Errorf("product %d not found", productID)
}
