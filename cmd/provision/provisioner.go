package main

import (
	"fmt"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/app/repository"
)

type provisioner struct {
	repos *repository.Repositories
}

func (p *provisioner) createUser(name, email string, admin bool) (string, error) {
	role := models.ROLE_USER
	if admin {
		role = models.ROLE_ADMIN
	}
	user, err := models.CreateUser(name, email, role)
	if err != nil {
		return "", err
	}
	key, err := user.IssueAPIKey()
	if err != nil {
		return "", err
	}
	if err := p.repos.User.Create(user); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return key, nil
}

func (p *provisioner) rotateKey(email string) (string, error) {
	user, err := p.repos.User.GetByEmail(email)
	if err != nil {
		return "", fmt.Errorf("find user %s: %w", email, err)
	}
	key, err := user.IssueAPIKey()
	if err != nil {
		return "", err
	}
	if err := p.repos.User.Update(user); err != nil {
		return "", fmt.Errorf("update user: %w", err)
	}
	return key, nil
}

func (p *provisioner) createTenant(name, billingEmail, ownerEmail string) (uint, error) {
	owner, err := p.repos.User.GetByEmail(ownerEmail)
	if err != nil {
		return 0, fmt.Errorf("find owner %s: %w", ownerEmail, err)
	}
	tenant := &models.Tenant{Name: name, BillingEmail: billingEmail, Status: models.TENANT_STATUS_ACTIVE}
	if err := tenant.Validate(); err != nil {
		return 0, err
	}
	if err := p.repos.Tenant.Create(tenant); err != nil {
		return 0, fmt.Errorf("create tenant: %w", err)
	}
	if err := p.repos.Tenant.AddMember(tenant.ID, owner.ID, models.MEMBER_ROLE_OWNER); err != nil {
		return tenant.ID, fmt.Errorf("add owner: %w", err)
	}
	return tenant.ID, nil
}

func (p *provisioner) addMember(tenantID uint, email string) error {
	if _, err := p.repos.Tenant.GetByID(tenantID); err != nil {
		return fmt.Errorf("find tenant %d: %w", tenantID, err)
	}
	user, err := p.repos.User.GetByEmail(email)
	if err != nil {
		return fmt.Errorf("find user %s: %w", email, err)
	}
	return p.repos.Tenant.AddMember(tenantID, user.ID, models.MEMBER_ROLE_STAFF)
}

func (p *provisioner) createListing(tenantID uint, title string) (string, error) {
	if _, err := p.repos.Tenant.GetByID(tenantID); err != nil {
		return "", fmt.Errorf("find tenant %d: %w", tenantID, err)
	}
	listing := &models.Listing{TenantID: tenantID, Title: title}
	if err := p.repos.Listing.Create(listing); err != nil {
		return "", fmt.Errorf("create listing: %w", err)
	}
	return listing.Slug, nil
}
