package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ManuelReschke/VenueFox/app/repository"
	"github.com/ManuelReschke/VenueFox/internal/pkg/database"
	"github.com/ManuelReschke/VenueFox/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	database.SetupDatabase()
	p := &provisioner{repos: repository.NewFactory(database.GetDB()).GetRepositories()}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "user":
		need(args, 2)
		admin := len(args) > 2 && args[2] == "admin"
		var key string
		key, err = p.createUser(args[0], args[1], admin)
		if err == nil {
			fmt.Printf("API key (shown once): %s\n", key)
		}

	case "rotate-key":
		need(args, 1)
		var key string
		key, err = p.rotateKey(args[0])
		if err == nil {
			fmt.Printf("API key (shown once): %s\n", key)
		}

	case "tenant":
		need(args, 3)
		var id uint
		id, err = p.createTenant(args[0], args[1], args[2])
		if err == nil {
			log.Printf("Created tenant %d", id)
		}

	case "member":
		need(args, 2)
		err = p.addMember(parseID(args[0]), args[1])

	case "listing":
		need(args, 2)
		var slug string
		slug, err = p.createListing(parseID(args[0]), args[1])
		if err == nil {
			log.Printf("Created listing /venues/%s (unpublished until the tenant is entitled)", slug)
		}

	case "deactivate-tenant":
		need(args, 1)
		err = p.repos.Tenant.Deactivate(parseID(args[0]))

	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func need(args []string, n int) {
	if len(args) < n {
		printUsage()
		os.Exit(1)
	}
}

func parseID(raw string) uint {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		log.Fatalf("Invalid id: %q", raw)
	}
	return uint(id)
}

func printUsage() {
	fmt.Println("Usage: go run cmd/provision/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  user NAME EMAIL [admin]            - create a user and print its API key")
	fmt.Println("  rotate-key EMAIL                   - issue a new API key, revoking the old one")
	fmt.Println("  tenant NAME BILLING_EMAIL OWNER    - create a tenant owned by the user with email OWNER")
	fmt.Println("  member TENANT_ID EMAIL             - add a staff member to a tenant")
	fmt.Println("  listing TENANT_ID TITLE            - create an unpublished listing")
	fmt.Println("  deactivate-tenant TENANT_ID        - deactivate a tenant")
}
