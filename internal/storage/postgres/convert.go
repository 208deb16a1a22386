package postgres

import (
	"encoding/json"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/notification"
)

func toTenantModel(t *domain.Tenant) *TenantModel {
	adapterCfg, _ := json.Marshal(t.AdapterConfig)
	formats, _ := json.Marshal(t.AutoApproveFormats)
	return &TenantModel{
		ID:                    t.ID,
		Name:                  t.Name,
		Subdomain:             t.Subdomain,
		AdapterName:           t.AdapterName,
		AdapterConfig:         JSONB(adapterCfg),
		AutoApproveFormats:    JSONB(formats),
		AutoCreateMediaBuys:   t.AutoCreateMediaBuys,
		PolicyBudgetThreshold: t.PolicyBudgetThreshold,
		ReconcileCron:         t.ReconcileCron,
		Enabled:               t.Enabled,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

func toTenantDomain(m *TenantModel) *domain.Tenant {
	t := &domain.Tenant{
		ID:                    m.ID,
		Name:                  m.Name,
		Subdomain:             m.Subdomain,
		AdapterName:           m.AdapterName,
		AutoCreateMediaBuys:   m.AutoCreateMediaBuys,
		PolicyBudgetThreshold: m.PolicyBudgetThreshold,
		ReconcileCron:         m.ReconcileCron,
		Enabled:               m.Enabled,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
	_ = json.Unmarshal(m.AdapterConfig, &t.AdapterConfig)
	_ = json.Unmarshal(m.AutoApproveFormats, &t.AutoApproveFormats)
	return t
}

func toPrincipalModel(p *domain.Principal) *PrincipalModel {
	mappings, _ := json.Marshal(p.PlatformMappings)
	return &PrincipalModel{
		ID:               p.ID,
		TenantID:         p.TenantID,
		Name:             p.Name,
		AccessToken:      p.AccessToken,
		PlatformMappings: JSONB(mappings),
		Enabled:          p.Enabled,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toPrincipalDomain(m *PrincipalModel) *domain.Principal {
	p := &domain.Principal{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Name:        m.Name,
		AccessToken: m.AccessToken,
		Enabled:     m.Enabled,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	_ = json.Unmarshal(m.PlatformMappings, &p.PlatformMappings)
	return p
}

func toProductModel(p *domain.Product) *ProductModel {
	formats, _ := json.Marshal(p.Formats)
	m := &ProductModel{
		ProductID:            p.ProductID,
		TenantID:             p.TenantID,
		Name:                 p.Name,
		Description:          p.Description,
		Formats:              JSONB(formats),
		DeliveryType:         string(p.Delivery),
		IsFixedPrice:         p.IsFixedPrice,
		CPM:                  p.CPM,
		ExpiresAt:            p.ExpiresAt,
		ImplementationConfig: JSONB(p.ImplementationConfig),
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if p.PriceGuidance != nil {
		guidance, _ := json.Marshal(p.PriceGuidance)
		m.PriceGuidance = JSONB(guidance)
	}
	return m
}

func toProductDomain(m *ProductModel) *domain.Product {
	p := &domain.Product{
		ProductID:            m.ProductID,
		TenantID:             m.TenantID,
		Name:                 m.Name,
		Description:          m.Description,
		Delivery:             domain.DeliveryType(m.DeliveryType),
		IsFixedPrice:         m.IsFixedPrice,
		CPM:                  m.CPM,
		ExpiresAt:            m.ExpiresAt,
		ImplementationConfig: json.RawMessage(m.ImplementationConfig),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	_ = json.Unmarshal(m.Formats, &p.Formats)
	if len(m.PriceGuidance) > 0 {
		p.PriceGuidance = &domain.PriceGuidance{}
		_ = json.Unmarshal(m.PriceGuidance, p.PriceGuidance)
	}
	return p
}

func toMediaBuyModel(b *domain.MediaBuy) *MediaBuyModel {
	packages, _ := json.Marshal(b.Packages)
	m := &MediaBuyModel{
		MediaBuyID:  b.MediaBuyID,
		TenantID:    b.TenantID,
		PrincipalID: b.PrincipalID,
		OrderName:   b.OrderName,
		AdapterName: b.AdapterName,
		ExternalID:  b.ExternalID,
		Packages:    JSONB(packages),
		TotalBudget: b.TotalBudget,
		FlightStart: b.FlightStart,
		FlightEnd:   b.FlightEnd,
		State:       string(b.State),
		LastError:   b.LastError,
		RawRequest:  JSONB(b.RawRequest),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
		CompletedAt: b.CompletedAt,
	}
	if b.Targeting != nil {
		targeting, _ := json.Marshal(b.Targeting)
		m.Targeting = JSONB(targeting)
	}
	return m
}

func toMediaBuyDomain(m *MediaBuyModel) *domain.MediaBuy {
	b := &domain.MediaBuy{
		MediaBuyID:  m.MediaBuyID,
		TenantID:    m.TenantID,
		PrincipalID: m.PrincipalID,
		OrderName:   m.OrderName,
		AdapterName: m.AdapterName,
		ExternalID:  m.ExternalID,
		TotalBudget: m.TotalBudget,
		FlightStart: m.FlightStart,
		FlightEnd:   m.FlightEnd,
		State:       domain.MediaBuyState(m.State),
		LastError:   m.LastError,
		RawRequest:  json.RawMessage(m.RawRequest),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}
	_ = json.Unmarshal(m.Packages, &b.Packages)
	if len(m.Targeting) > 0 {
		b.Targeting = &domain.TargetingOverlay{}
		_ = json.Unmarshal(m.Targeting, b.Targeting)
	}
	return b
}

func toCreativeModel(c *domain.Creative) *CreativeModel {
	return &CreativeModel{
		CreativeID:  c.CreativeID,
		TenantID:    c.TenantID,
		PrincipalID: c.PrincipalID,
		Name:        c.Name,
		FormatID:    c.FormatID,
		ContentURI:  c.ContentURI,
		ClickURL:    c.ClickURL,
		Status:      string(c.Status),
		Detail:      c.Detail,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func toCreativeDomain(m *CreativeModel) *domain.Creative {
	return &domain.Creative{
		CreativeID:  m.CreativeID,
		TenantID:    m.TenantID,
		PrincipalID: m.PrincipalID,
		Name:        m.Name,
		FormatID:    m.FormatID,
		ContentURI:  m.ContentURI,
		ClickURL:    m.ClickURL,
		Status:      domain.CreativeStatus(m.Status),
		Detail:      m.Detail,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toAssignmentModel(a *domain.CreativeAssignment) *CreativeAssignmentModel {
	return &CreativeAssignmentModel{
		ID:         a.ID,
		TenantID:   a.TenantID,
		CreativeID: a.CreativeID,
		MediaBuyID: a.MediaBuyID,
		PackageID:  a.PackageID,
		CreatedAt:  a.CreatedAt,
	}
}

func toAssignmentDomain(m *CreativeAssignmentModel) *domain.CreativeAssignment {
	return &domain.CreativeAssignment{
		ID:         m.ID,
		TenantID:   m.TenantID,
		CreativeID: m.CreativeID,
		MediaBuyID: m.MediaBuyID,
		PackageID:  m.PackageID,
		CreatedAt:  m.CreatedAt,
	}
}

func toTaskModel(t *domain.HumanTask) *HumanTaskModel {
	return &HumanTaskModel{
		TaskID:           t.TaskID,
		TenantID:         t.TenantID,
		Type:             string(t.Type),
		Status:           string(t.Status),
		SubjectType:      t.SubjectType,
		SubjectID:        t.SubjectID,
		Detail:           t.Detail,
		Assignee:         t.Assignee,
		Resolution:       t.Resolution,
		ResolutionDetail: t.ResolutionDetail,
		DueAt:            t.DueAt,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
		VerifiedAt:       t.VerifiedAt,
	}
}

func toTaskDomain(m *HumanTaskModel) *domain.HumanTask {
	return &domain.HumanTask{
		TaskID:           m.TaskID,
		TenantID:         m.TenantID,
		Type:             domain.TaskType(m.Type),
		Status:           domain.TaskStatus(m.Status),
		SubjectType:      m.SubjectType,
		SubjectID:        m.SubjectID,
		Detail:           m.Detail,
		Assignee:         m.Assignee,
		Resolution:       m.Resolution,
		ResolutionDetail: m.ResolutionDetail,
		DueAt:            m.DueAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		CompletedAt:      m.CompletedAt,
		VerifiedAt:       m.VerifiedAt,
	}
}

func toAuditModel(e *domain.AuditEntry) *AuditEntryModel {
	detail, _ := json.Marshal(e.Detail)
	return &AuditEntryModel{
		ID:          e.ID,
		TenantID:    e.TenantID,
		PrincipalID: e.PrincipalID,
		Operation:   e.Operation,
		Success:     e.Success,
		Detail:      JSONB(detail),
		CreatedAt:   e.CreatedAt,
	}
}

func toAuditDomain(m *AuditEntryModel) *domain.AuditEntry {
	e := &domain.AuditEntry{
		ID:          m.ID,
		TenantID:    m.TenantID,
		PrincipalID: m.PrincipalID,
		Operation:   m.Operation,
		Success:     m.Success,
		CreatedAt:   m.CreatedAt,
	}
	_ = json.Unmarshal(m.Detail, &e.Detail)
	return e
}

func toSignalModel(tenantID [16]byte, s *domain.Signal) *SignalModel {
	platforms, _ := json.Marshal(s.Platforms)
	return &SignalModel{
		SignalID:    s.SignalID,
		TenantID:    tenantID,
		Name:        s.Name,
		Description: s.Description,
		Type:        s.Type,
		CPMUplift:   s.CPMUplift,
		Platforms:   JSONB(platforms),
	}
}

func toSignalDomain(m *SignalModel) *domain.Signal {
	s := &domain.Signal{
		SignalID:    m.SignalID,
		Name:        m.Name,
		Description: m.Description,
		Type:        m.Type,
		CPMUplift:   m.CPMUplift,
	}
	_ = json.Unmarshal(m.Platforms, &s.Platforms)
	return s
}

func toEndpointModel(e *notification.Endpoint) *NotificationEndpointModel {
	events, _ := json.Marshal(e.Events)
	return &NotificationEndpointModel{
		ID:       e.ID,
		TenantID: e.TenantID,
		Name:     e.Name,
		Kind:     e.Kind,
		URL:      e.URL,
		Secret:   e.Secret,
		Events:   JSONB(events),
		Enabled:  e.Enabled,
	}
}

func toEndpointDomain(m *NotificationEndpointModel) *notification.Endpoint {
	e := &notification.Endpoint{
		ID:       m.ID,
		TenantID: m.TenantID,
		Name:     m.Name,
		Kind:     m.Kind,
		URL:      m.URL,
		Secret:   m.Secret,
		Enabled:  m.Enabled,
	}
	_ = json.Unmarshal(m.Events, &e.Events)
	return e
}
