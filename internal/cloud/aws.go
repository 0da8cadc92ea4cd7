package cloud

var awsProvider = &Provider{
	Kind:     KindAWS,
	Binaries: []string{"aws"},

	ReadOnlyVerbs: []string{"describe-", "list-", "get-", "show-"},

	BlockRules: []BlockRule{
		{Category: CategoryIdentity, Patterns: []string{
			"iam create-user",
			"iam delete-user",
			"iam create-role",
			"iam delete-role",
			"iam attach-user-policy",
			"iam attach-role-policy",
			"iam detach-user-policy",
			"iam detach-role-policy",
			"iam put-user-policy",
			"iam create-access-key",
			"iam add-user-to-group",
		}},
		{Category: CategorySecrets, Patterns: []string{
			"secretsmanager delete-secret",
			"secretsmanager rotate-secret",
			"secretsmanager put-secret-value",
			"kms schedule-key-deletion",
			"kms disable-key",
		}},
		{Category: CategoryLogging, Patterns: []string{
			"cloudtrail delete-trail",
			"cloudtrail stop-logging",
			"cloudtrail update-trail",
			"config delete-configuration-recorder",
			"logs delete-log-group",
		}},
		{Category: CategoryNetwork, Patterns: []string{
			"ec2 authorize-security-group-ingress",
			"ec2 authorize-security-group-egress",
			"ec2 delete-security-group",
			"ec2 delete-vpc",
			"wafv2 delete-web-acl",
		}},
		{Category: CategoryProject, Patterns: []string{
			"organizations leave-organization",
			"organizations remove-account-from-organization",
			"account close-account",
		}},
		{Category: CategoryCompute, Patterns: []string{
			"ec2 terminate-instances",
			"ec2 delete-volume",
			"ec2 delete-snapshot",
			"ec2 deregister-image",
			"lambda delete-function",
		}},
		{Category: CategoryStorage, Patterns: []string{
			"s3 rb",
			"s3 rm",
			"s3api delete-bucket",
			"s3api delete-object",
			"s3api put-bucket-acl",
			"s3api put-bucket-policy",
			"s3api delete-public-access-block",
		}},
		{Category: CategoryDatabase, Patterns: []string{
			"rds delete-db-instance",
			"rds delete-db-cluster",
			"dynamodb delete-table",
			"redshift delete-cluster",
		}},
	},

	Phrases: []Phrase{
		{"who am i", "aws sts get-caller-identity"},
		{"show my identity", "aws sts get-caller-identity"},
		{"list users", "aws iam list-users"},
		{"list iam users", "aws iam list-users"},
		{"list roles", "aws iam list-roles"},
		{"list access keys", "aws iam list-access-keys"},
		{"list policies", "aws iam list-policies --scope Local"},
		{"list mfa devices", "aws iam list-mfa-devices"},
		{"password policy", "aws iam get-account-password-policy"},
		{"list my instances", "aws ec2 describe-instances"},
		{"list instances", "aws ec2 describe-instances"},
		{"list running instances", "aws ec2 describe-instances --filters Name=instance-state-name,Values=running"},
		{"list volumes", "aws ec2 describe-volumes"},
		{"list unencrypted volumes", "aws ec2 describe-volumes --filters Name=encrypted,Values=false"},
		{"list amis", "aws ec2 describe-images --owners self"},
		{"list security groups", "aws ec2 describe-security-groups"},
		{"list open security groups", "aws ec2 describe-security-groups --filters Name=ip-permission.cidr,Values=0.0.0.0/0"},
		{"list vpcs", "aws ec2 describe-vpcs"},
		{"list subnets", "aws ec2 describe-subnets"},
		{"list buckets", "aws s3api list-buckets"},
		{"list s3 buckets", "aws s3api list-buckets"},
		{"list public buckets", "aws s3api list-buckets"},
		{"list databases", "aws rds describe-db-instances"},
		{"list rds instances", "aws rds describe-db-instances"},
		{"list dynamodb tables", "aws dynamodb list-tables"},
		{"list secrets", "aws secretsmanager list-secrets"},
		{"list kms keys", "aws kms list-keys"},
		{"list trails", "aws cloudtrail describe-trails"},
		{"cloudtrail status", "aws cloudtrail get-trail-status"},
		{"list lambda functions", "aws lambda list-functions"},
		{"list functions", "aws lambda list-functions"},
		{"list clusters", "aws eks list-clusters"},
		{"list eks clusters", "aws eks list-clusters"},
		{"list regions", "aws ec2 describe-regions"},
		{"list snapshots", "aws ec2 describe-snapshots --owner-ids self"},
	},

	AuthErrorPatterns: []string{
		"Unable to locate credentials",
		"InvalidClientTokenId",
		"ExpiredToken",
		"The security token included in the request is expired",
		"could not be found in the configured credential",
	},
	LoginHint: "run `aws configure` or set AWS_PROFILE to a valid profile",

	ContextFlags: []string{"--profile", "--region"},
}
