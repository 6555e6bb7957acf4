package session

// CloudProvider groups the session types a front end can offer.
type CloudProvider string

const (
	CloudProviderAWS   CloudProvider = "aws"
	CloudProviderAzure CloudProvider = "azure"
)

// FieldKind is the input style for an access-method field.
type FieldKind string

const (
	FieldKindInput FieldKind = "input"
	FieldKindList  FieldKind = "list"
)

// CreateNewIdpURLChoice is the sentinel choice value offered on the IdP URL
// field. Selecting it makes the front end create a new Identity-Provider URL
// before completing session creation.
const CreateNewIdpURLChoice = "create-new-idp-url"

// FieldChoice is one selectable option of a list field.
type FieldChoice struct {
	Label string
	Value string
}

// AccessMethodField describes one input needed to build a creation request.
type AccessMethodField struct {
	Name    string
	Prompt  string
	Kind    FieldKind
	Choices []FieldChoice
}

// AccessMethod describes how to create a session of one type: its label and
// the ordered inputs the front end must collect. Not persisted; computed
// fresh from repository state so choice lists stay live.
type AccessMethod struct {
	SessionType Type
	Label       string
	Fields      []AccessMethodField
	Creatable   bool
}

// CatalogView supplies the live choice lists an access method embeds.
// The workspace repository implements it.
type CatalogView interface {
	ProfileChoices() []FieldChoice
	IdpURLChoices() []FieldChoice
	AssumableSessionChoices() []FieldChoice
}

// AccessMethods returns the access methods for a cloud provider, with choice
// lists computed from view.
func AccessMethods(provider CloudProvider, view CatalogView) []AccessMethod {
	switch provider {
	case CloudProviderAWS:
		return awsAccessMethods(view)
	case CloudProviderAzure:
		return azureAccessMethods()
	default:
		return nil
	}
}

func awsAccessMethods(view CatalogView) []AccessMethod {
	regionChoices := regionFieldChoices(AWSRegions())
	profileChoices := view.ProfileChoices()
	idpChoices := append(view.IdpURLChoices(), FieldChoice{Label: "Create new", Value: CreateNewIdpURLChoice})
	assumerChoices := view.AssumableSessionChoices()

	return []AccessMethod{
		{
			SessionType: TypeAwsIamUser,
			Label:       TypeLabel(TypeAwsIamUser),
			Creatable:   true,
			Fields: []AccessMethodField{
				{Name: "sessionName", Prompt: "Insert session alias", Kind: FieldKindInput},
				{Name: "accessKey", Prompt: "Insert Access Key ID", Kind: FieldKindInput},
				{Name: "secretKey", Prompt: "Insert Secret Access Key", Kind: FieldKindInput},
				{Name: "region", Prompt: "Select region", Kind: FieldKindList, Choices: regionChoices},
				{Name: "mfaDevice", Prompt: "Insert Mfa Device ARN", Kind: FieldKindInput},
				{Name: "profileId", Prompt: "Select the Named Profile", Kind: FieldKindList, Choices: profileChoices},
			},
		},
		{
			SessionType: TypeAwsIamRoleFederated,
			Label:       TypeLabel(TypeAwsIamRoleFederated),
			Creatable:   true,
			Fields: []AccessMethodField{
				{Name: "sessionName", Prompt: "Insert session alias", Kind: FieldKindInput},
				{Name: "region", Prompt: "Select region", Kind: FieldKindList, Choices: regionChoices},
				{Name: "roleArn", Prompt: "Insert Role ARN", Kind: FieldKindInput},
				{Name: "idpUrl", Prompt: "Select the SAML 2.0 Url", Kind: FieldKindList, Choices: idpChoices},
				{Name: "idpArn", Prompt: "Insert the AWS Identity Provider ARN", Kind: FieldKindInput},
				{Name: "profileId", Prompt: "Select the Named Profile", Kind: FieldKindList, Choices: profileChoices},
			},
		},
		{
			SessionType: TypeAwsIamRoleChained,
			Label:       TypeLabel(TypeAwsIamRoleChained),
			Creatable:   true,
			Fields: []AccessMethodField{
				{Name: "sessionName", Prompt: "Insert session alias", Kind: FieldKindInput},
				{Name: "region", Prompt: "Select region", Kind: FieldKindList, Choices: regionChoices},
				{Name: "roleArn", Prompt: "Insert Role ARN", Kind: FieldKindInput},
				{Name: "parentSessionId", Prompt: "Select Assumer Session", Kind: FieldKindList, Choices: assumerChoices},
				{Name: "roleSessionName", Prompt: "Role Session Name", Kind: FieldKindInput},
				{Name: "profileId", Prompt: "Select the Named Profile", Kind: FieldKindList, Choices: profileChoices},
			},
		},
		// SSO Role sessions are not created field-by-field; they come from
		// the account and role listing of an authenticated portal.
		{
			SessionType: TypeAwsSsoRole,
			Label:       TypeLabel(TypeAwsSsoRole),
			Creatable:   false,
		},
	}
}

func azureAccessMethods() []AccessMethod {
	return []AccessMethod{
		{
			SessionType: TypeAzure,
			Label:       TypeLabel(TypeAzure),
			Creatable:   true,
			Fields: []AccessMethodField{
				{Name: "sessionName", Prompt: "Insert session alias", Kind: FieldKindInput},
				{Name: "region", Prompt: "Select Location", Kind: FieldKindList, Choices: regionFieldChoices(AzureLocations())},
				{Name: "subscriptionId", Prompt: "Insert Subscription Id", Kind: FieldKindInput},
				{Name: "tenantId", Prompt: "Insert Tenant Id", Kind: FieldKindInput},
			},
		},
	}
}

func regionFieldChoices(regions []string) []FieldChoice {
	choices := make([]FieldChoice, 0, len(regions))
	for _, r := range regions {
		choices = append(choices, FieldChoice{Label: r, Value: r})
	}
	return choices
}
