package session

// AWSRegions returns the selectable AWS regions for session creation.
func AWSRegions() []string {
	return []string{
		"us-east-1",
		"us-east-2",
		"us-west-1",
		"us-west-2",
		"af-south-1",
		"ap-east-1",
		"ap-south-1",
		"ap-northeast-1",
		"ap-northeast-2",
		"ap-northeast-3",
		"ap-southeast-1",
		"ap-southeast-2",
		"ca-central-1",
		"eu-central-1",
		"eu-west-1",
		"eu-west-2",
		"eu-west-3",
		"eu-north-1",
		"eu-south-1",
		"me-south-1",
		"sa-east-1",
	}
}

// AzureLocations returns the selectable Azure locations for session creation.
func AzureLocations() []string {
	return []string{
		"eastus",
		"eastus2",
		"southcentralus",
		"australiaeast",
		"southeastasia",
		"northeurope",
		"uksouth",
		"westeurope",
		"centralus",
		"northcentralus",
		"southafricanorth",
		"centralindia",
		"eastasia",
		"japaneast",
		"koreacentral",
		"canadacentral",
		"francecentral",
		"germanywestcentral",
		"norwayeast",
		"switzerlandnorth",
		"uaenorth",
		"brazilsouth",
		"westcentralus",
		"westus",
		"westus2",
		"westus3",
		"southafricawest",
		"australiacentral",
		"australiacentral2",
		"australiasoutheast",
		"japanwest",
		"koreasouth",
		"southindia",
		"westindia",
		"canadaeast",
		"francesouth",
		"germanynorth",
		"norwaywest",
		"switzerlandwest",
		"ukwest",
		"uaecentral",
		"brazilsoutheast",
	}
}
