package lead

import "fmt"

// Field is one of the fixed CRM custom-field slots a deal carries.
type Field int

const (
	FieldSource Field = iota
	FieldListingReference
	FieldListingPrice
	FieldResponseURL
	FieldEnquiryDate
	FieldWhatsAppNumber
	FieldAgentName
	FieldAgentPhone
	FieldAgentEmail
	FieldAgentPortalID
	FieldBedrooms
	FieldCategory
	FieldFurnishing
	FieldProduct
	FieldQualityScore
	FieldSize
	FieldTitle
	FieldPropertyType
	FieldVerificationStatus
	FieldEventID
	fieldCount
)

var fieldNames = [fieldCount]string{
	FieldSource:             "source",
	FieldListingReference:   "listing_reference",
	FieldListingPrice:       "listing_price",
	FieldResponseURL:        "response_url",
	FieldEnquiryDate:        "enquiry_date",
	FieldWhatsAppNumber:     "whatsapp_number",
	FieldAgentName:          "agent_name",
	FieldAgentPhone:         "agent_phone",
	FieldAgentEmail:         "agent_email",
	FieldAgentPortalID:      "agent_portal_id",
	FieldBedrooms:           "bedrooms",
	FieldCategory:           "category",
	FieldFurnishing:         "furnishing",
	FieldProduct:            "product",
	FieldQualityScore:       "quality_score",
	FieldSize:               "size",
	FieldTitle:              "title",
	FieldPropertyType:       "property_type",
	FieldVerificationStatus: "verification_status",
	FieldEventID:            "event_id",
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Fields lists every slot in declaration order.
func Fields() []Field {
	out := make([]Field, 0, fieldCount)
	for f := Field(0); f < fieldCount; f++ {
		out = append(out, f)
	}
	return out
}

// ParseField resolves a configuration name such as "listing_price".
func ParseField(name string) (Field, bool) {
	for f, n := range fieldNames {
		if n == name {
			return Field(f), true
		}
	}
	return 0, false
}

// FieldValues maps l onto every custom-field slot. Absent values are nil so
// an update explicitly clears what the CRM held before; the listing price is
// numeric and never nil.
func (l *Lead) FieldValues() map[Field]any {
	v := map[Field]any{
		FieldSource:             stringOrNil(l.Channel),
		FieldListingReference:   stringOrNil(l.ListingReference),
		FieldListingPrice:       l.Price,
		FieldResponseURL:        stringOrNil(l.ResponseURL),
		FieldEnquiryDate:        nil,
		FieldWhatsAppNumber:     stringOrNil(l.WhatsApp),
		FieldAgentName:          stringOrNil(l.Agent.Name),
		FieldAgentPhone:         stringOrNil(l.Agent.Phone),
		FieldAgentEmail:         stringOrNil(l.Agent.Email),
		FieldAgentPortalID:      stringOrNil(l.Agent.PortalID),
		FieldBedrooms:           stringOrNil(l.Attributes.Bedrooms),
		FieldCategory:           stringOrNil(l.Attributes.Category),
		FieldFurnishing:         stringOrNil(l.Attributes.Furnishing),
		FieldProduct:            stringOrNil(l.Attributes.Product),
		FieldQualityScore:       floatOrNil(l.Attributes.QualityScore),
		FieldSize:               floatOrNil(l.Attributes.Size),
		FieldTitle:              stringOrNil(l.ListingTitle),
		FieldPropertyType:       stringOrNil(l.Attributes.PropertyType),
		FieldVerificationStatus: stringOrNil(l.Attributes.VerificationStatus),
		FieldEventID:            stringOrNil(l.EventID),
	}
	if l.EnquiredAt != nil {
		v[FieldEnquiryDate] = l.EnquiredAt.Format("2006-01-02")
	}
	return v
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
