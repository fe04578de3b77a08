package templates

import (
	"embed"
	"log"
)

//go:embed sql/*.sql
var templateFS embed.FS

// BusinessType tags a schema template bundle
type BusinessType string

const (
	TypeSaaS        BusinessType = "saas"
	TypeMarketplace BusinessType = "marketplace"
	TypeSocial      BusinessType = "social"
	TypeEnterprise  BusinessType = "enterprise"
	TypeEcommerce   BusinessType = "ecommerce"
	TypeCustom      BusinessType = "custom"
)

// All lists every known business type
func All() []BusinessType {
	return []BusinessType{TypeSaaS, TypeMarketplace, TypeSocial, TypeEnterprise, TypeEcommerce, TypeCustom}
}

// Render returns the DDL bundle for a business type. Unknown types fall back
// to the custom template so provisioning never fails on a cosmetic input.
// Every template is idempotent (IF NOT EXISTS) and safe to re-run.
func Render(businessType BusinessType) string {
	name := businessType
	switch businessType {
	case TypeSaaS, TypeMarketplace, TypeSocial, TypeEnterprise, TypeEcommerce, TypeCustom:
	default:
		log.Printf("Templates: unknown business type %q, using custom template", businessType)
		name = TypeCustom
	}

	data, err := templateFS.ReadFile("sql/" + string(name) + ".sql")
	if err != nil {
		// Embedded files are fixed at build time; this only fires if a
		// template file was removed from the tree.
		log.Printf("Templates: missing template %q: %v", name, err)
		return ""
	}
	return string(data)
}
