package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/theflywheel/pagekv"
)

func main() {
	// Clean up previous example
	os.Remove("example.kv")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := pagekv.Open("example.kv", &pagekv.Options{Logger: logger})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Println("Database opened successfully")

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("user:%d", i)
		value := fmt.Sprintf("score=%d", i*100)
		if err := db.Put([]byte(key), []byte(value)); err != nil {
			log.Fatalf("Failed to insert %s: %v", key, err)
		}
	}

	fmt.Println("Inserted 10 key-value pairs")

	for i := 0; i < 15; i += 2 {
		key := fmt.Sprintf("user:%d", i)
		value, found, err := db.Get([]byte(key))
		if err != nil {
			log.Fatalf("Failed to read %s: %v", key, err)
		}
		if found {
			fmt.Printf("%s => %s\n", key, value)
		} else {
			fmt.Printf("%s not found\n", key)
		}
	}

	// Update a value
	if err := db.Put([]byte("user:2"), []byte("score=999")); err != nil {
		log.Fatalf("Failed to update key: %v", err)
	}
	value, _, err := db.Get([]byte("user:2"))
	if err != nil {
		log.Fatalf("Failed to read key: %v", err)
	}
	fmt.Printf("Updated user:2 => %s\n", value)

	// Delete a value
	removed, err := db.Delete([]byte("user:4"))
	if err != nil {
		log.Fatalf("Failed to delete key: %v", err)
	}
	fmt.Printf("Deleted user:4: %v\n", removed)

	// Grow the directory and check the data survived
	if err := db.Expand(1); err != nil {
		log.Fatalf("Failed to expand: %v", err)
	}
	value, found, err := db.Get([]byte("user:8"))
	if err != nil {
		log.Fatalf("Failed to read key: %v", err)
	}
	fmt.Printf("After expand user:8 => %s (found=%v, load factor %.4f)\n", value, found, db.LoadFactor())

	fmt.Println("Example completed successfully")
}
